package paramstores

import "github.com/qvantel/solapse/internal/norm"

const testID = "test-leo-v1"

func testParams() MLPParams {
	return MLPParams{
		Version:      testID,
		Convention:   norm.LEO,
		Regime:       "hydrostatic",
		Topology:     []int{3, 2, 2, 1},
		Skip:         true,
		LearningRate: 0.001,
		Weights: [][]float64{
			{0.4, 0.7, -0.2, 0.6, -0.4, 0.3},
			{-0.3, 0.5, 0.1, 0.9},
			{0.25, -0.75},
		},
		Biases: [][]float64{
			{0.1, -0.1},
			{0.05, 0.2},
			{-28.9},
		},
		Epoch:     5000,
		Loss:      0.0123456789,
		TrainedAt: 777808800,
	}
}

func initTest(nps NetParamStore) (string, error) {
	params := testParams()
	return testID, nps.Save(testID, &params)
}
