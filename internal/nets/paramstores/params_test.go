package paramstores

import "testing"

func TestCheck(t *testing.T) {
	params := testParams()
	if err := params.Check(); err != nil {
		t.Fatalf("Valid params failed the shape check (%s)", err.Error())
	}
	params.Biases[1] = params.Biases[1][:1]
	if params.Check() == nil {
		t.Error("Expected the shape check to fail when a bias is missing")
	}
	params = testParams()
	params.Topology = []int{3, 2, 4, 1}
	if params.Check() == nil {
		t.Error("Expected the shape check to fail when the topology doesn't match the weights")
	}
	params = testParams()
	params.Topology = []int{3, 1}
	params.Weights = [][]float64{{1, 2, 3}}
	params.Biases = [][]float64{{0}}
	if params.Check() == nil {
		t.Error("A skip connection shouldn't be accepted without hidden layers")
	}
}

func TestBrief(t *testing.T) {
	params := testParams()
	brief := params.Brief()
	if brief.ID != testID || brief.HLayers != 2 || brief.Convention != "leo600-lnrho-v1" {
		t.Errorf("Brief doesn't summarize the params correctly: %+v", brief)
	}
}
