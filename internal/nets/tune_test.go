package nets

import (
	"context"
	"math/rand"
	"testing"

	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/norm"
)

func TestCrossover(t *testing.T) {
	a := Chromosome{DataLoss: config.MSELoss, LearningRate: 0.001, PhysicsWeight: 1500, Skip: true}
	b := Chromosome{DataLoss: config.HuberLoss, LearningRate: 0.01, PhysicsWeight: 100, Skip: false}
	offspring := a.Crossover(b, 0)
	if offspring[0].LearningRate != 0.01 || offspring[0].PhysicsWeight != 1500 {
		t.Errorf("Crossover with n=0 should only swap the learning rate, got %+v", offspring[0])
	}
	offspring = a.Crossover(b, 3)
	if offspring[1].DataLoss != config.MSELoss || !offspring[1].Skip || offspring[1].PhysicsWeight != 1500 {
		t.Errorf("Crossover with n=3 should swap every gene, got %+v", offspring[1])
	}
}

func TestMutate(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := Chromosome{DataLoss: config.MSELoss, LearningRate: 0.001, PhysicsWeight: 1500, Topology: []int{3, 8, 4, 1}}
	c.Mutate(0, rng)
	if c.LearningRate != 0.002 && c.LearningRate != 0.0005 {
		t.Errorf("Expected the learning rate to be doubled or halved, got %f", c.LearningRate)
	}
	c.Mutate(2, rng)
	if c.Skip {
		t.Error("Skip shouldn't be enabled when the hidden layers have different widths")
	}
	c.Mutate(3, rng)
	if c.DataLoss != config.HuberLoss {
		t.Errorf("Expected the data loss to switch to huber, got %s", c.DataLoss)
	}
}

func TestOptimal(t *testing.T) {
	params := config.MLParams{Generations: 2, Variations: 3}
	base := Chromosome{
		DataLoss:      config.MSELoss,
		LearningRate:  0.003,
		PhysicsWeight: 1500,
		Regime:        config.ExponentialRegime,
		Topology:      []int{3, 4, 4, 1},
	}
	pop := NewPopulation(params, base, norm.LEO, rand.New(rand.NewSource(9)))
	if len(pop.individuals) != 3 {
		t.Fatalf("Expected 3 individuals, got %d", len(pop.individuals))
	}
	net, err := pop.Optimal(context.Background(), "search", TrainingParams{BatchSize: 32, Epochs: 20})
	if err != nil {
		t.Fatalf("Search failed (%s)", err.Error())
	}
	if net == nil {
		t.Fatal("Search didn't return a net")
	}
	for _, c := range pop.individuals {
		if c.Fitness > pop.individuals[pop.first].Fitness {
			t.Errorf("Individual with fitness %f is better than the selected one (%f)", c.Fitness, pop.individuals[pop.first].Fitness)
		}
	}
	if net != pop.individuals[pop.first].Net {
		t.Error("Optimal should return the net of the fittest individual")
	}
}
