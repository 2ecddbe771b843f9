package nets

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/norm"
)

// Chromosome represents a density model configuration
type Chromosome struct {
	DataLoss      string
	Fitness       float64 // Negative held-out loss, higher is better
	LearningRate  float64
	PhysicsWeight float64
	Regime        string
	Skip          bool
	Topology      []int
	Net           *MLP
}

// canSkip returns true if the topology allows a skip connection between the first two hidden layers
func canSkip(topology []int) bool {
	if len(topology) == 0 {
		topology = DefaultTopology
	}
	return len(topology) > 3 && topology[1] == topology[2]
}

// Check trains a net with the chromosome's config and updates its fitness based on the held-out loss. A run that
// diverges gets the lowest possible fitness instead of failing the whole search
func (c *Chromosome) Check(ctx context.Context, id string, conv norm.Convention, tp TrainingParams, s scorer) error {
	if c.Net != nil {
		return nil
	}
	net, err := NewMLP(id, *c, conv, tp.Rand)
	if err != nil {
		return err
	}
	tp.DataLoss = c.DataLoss
	_, err = net.Train(ctx, tp)
	if errors.Is(err, ErrNonFiniteLoss) {
		logger.Warning("[MLP " + id + "] Candidate diverged (" + err.Error() + ")")
		c.Fitness = math.Inf(-1)
		return nil
	}
	if err != nil {
		return err
	}
	c.Net = net
	c.Fitness = -s.score(net)
	return nil
}

// Crossover exchanges n+1 parameters between the chromosomes to create two new configurations
func (c Chromosome) Crossover(b Chromosome, n int) []Chromosome {
	// Clear the net pointers from the copies of c and b
	c.Net, b.Net = nil, nil

	c.LearningRate, b.LearningRate = b.LearningRate, c.LearningRate
	if n >= 1 {
		c.PhysicsWeight, b.PhysicsWeight = b.PhysicsWeight, c.PhysicsWeight
	}
	if n >= 2 {
		c.Skip, b.Skip = b.Skip, c.Skip
	}
	if n >= 3 {
		c.DataLoss, b.DataLoss = b.DataLoss, c.DataLoss
	}
	return []Chromosome{c, b}
}

// Mutate randomly alters the given gene
func (c *Chromosome) Mutate(gene int, rng *rand.Rand) {
	switch gene {
	case 0:
		c.LearningRate *= math.Pow(2, float64(rng.Intn(2)*2-1))
	case 1:
		c.PhysicsWeight *= math.Pow(2, float64(rng.Intn(2)*2-1))
	case 2:
		if !canSkip(c.Topology) {
			return
		}
		c.Skip = !c.Skip
	case 3:
		if c.DataLoss == config.HuberLoss {
			c.DataLoss = config.MSELoss
		} else {
			c.DataLoss = config.HuberLoss
		}
	default:
		return
	}
	// Reset the net as it no longer matches the configuration
	c.Net = nil
	c.Fitness = 0
}

// scorer computes a loss that is comparable between candidates, whatever data loss and physics weight they were
// trained with
type scorer struct {
	cutoff     float64
	weight     float64
	validation []norm.Vector
}

func (s scorer) score(net *MLP) float64 {
	settings := net.settings(TrainingParams{Cutoff: s.cutoff, DataLoss: config.MSELoss})
	settings.physicsWeight = s.weight
	lt := net.lossFor(settings, s.validation)
	if !lt.finite() {
		return math.Inf(1)
	}
	return lt.total
}

// Population represents a collection of individuals and their metadata
type Population struct {
	conv        norm.Convention
	first       int
	generations int
	individuals []Chromosome
	last        int
	rng         *rand.Rand
	scorer      scorer
	second      int
}

// NewPopulation creates a new set of individuals around the base configuration and initializes their metadata. The
// first individual is the base itself, the rest spread the learning rate and physics weight over an order of
// magnitude in each direction
func NewPopulation(params config.MLParams, base Chromosome, conv norm.Convention, rng *rand.Rand) *Population {
	variations := params.Variations
	if variations < 3 {
		variations = 3
	}
	pop := Population{
		conv:        conv,
		first:       -1,
		generations: params.Generations,
		last:        -1,
		rng:         rng,
		second:      -1,
	}
	base.Net, base.Fitness = nil, 0
	pop.individuals = make([]Chromosome, variations)
	pop.individuals[0] = base
	for i := 1; i < variations; i++ {
		c := base
		c.LearningRate = base.LearningRate * math.Pow(10, rng.Float64()*2-1)
		c.PhysicsWeight = base.PhysicsWeight * math.Pow(10, rng.Float64()*2-1)
		c.Skip = canSkip(base.Topology) && rng.Intn(2) == 1
		if rng.Intn(2) == 1 {
			c.DataLoss = config.HuberLoss
		} else {
			c.DataLoss = config.MSELoss
		}
		pop.individuals[i] = c
	}
	return &pop
}

// Optimal uses a genetic algorithm to find the config that results in the net with the lowest held-out loss and
// returns that net
func (pop *Population) Optimal(ctx context.Context, id string, tp TrainingParams) (*MLP, error) {
	tp.Rand = pop.rng
	size := tp.Validate
	if size <= 0 {
		size = tp.BatchSize
	}
	pop.scorer = scorer{
		cutoff:     tp.Cutoff,
		weight:     pop.individuals[0].PhysicsWeight,
		validation: sampleBatch(pop.rng, size, pop.individuals[0].Regime),
	}

	err := pop.rank(ctx, id, tp)
	if err != nil {
		return nil, err
	}
	for gen := 0; gen < pop.generations; gen++ {
		logger.Debug(fmt.Sprintf(
			"Gen %d fitness: first = %f, second = %f, last = %f",
			gen,
			pop.individuals[pop.first].Fitness,
			pop.individuals[pop.second].Fitness,
			pop.individuals[pop.last].Fitness,
		))

		// Cross fittest individuals
		cp := pop.rng.Intn(4)
		offspring := pop.individuals[pop.first].Crossover(pop.individuals[pop.second], cp)

		// Mutate offspring (20% chance)
		if pop.rng.Intn(5) == 0 {
			offspring[0].Mutate(pop.rng.Intn(4), pop.rng)
			offspring[1].Mutate(pop.rng.Intn(4), pop.rng)
		}

		// Calculate offspring fitness
		for index := range offspring {
			err := offspring[index].Check(ctx, id, pop.conv, tp, pop.scorer)
			if err != nil {
				return nil, err
			}
		}

		// Replace least fit individual with fittest offspring
		if offspring[0].Fitness > offspring[1].Fitness {
			pop.individuals[pop.last] = offspring[0]
		} else {
			pop.individuals[pop.last] = offspring[1]
		}
		err = pop.rank(ctx, id, tp)
		if err != nil {
			return nil, err
		}
	}

	best := pop.individuals[pop.first]
	if best.Net == nil {
		return nil, fmt.Errorf("%w in every candidate", ErrNonFiniteLoss)
	}
	return best.Net, nil
}

// rank traverses the population calculating the fitness of each individual and identifying the fittest, second fittest
// and least fit
func (pop *Population) rank(ctx context.Context, id string, tp TrainingParams) error {
	pop.first, pop.second, pop.last = -1, -1, -1
	for index := range pop.individuals {
		err := pop.individuals[index].Check(ctx, id, pop.conv, tp, pop.scorer)
		if err != nil {
			return err
		}
	}
	for index := range pop.individuals {
		fitness := pop.individuals[index].Fitness
		if pop.first == -1 || fitness > pop.individuals[pop.first].Fitness {
			pop.second, pop.first = pop.first, index
		} else if pop.second == -1 || fitness > pop.individuals[pop.second].Fitness {
			pop.second = index
		}
		if pop.last == -1 || fitness <= pop.individuals[pop.last].Fitness {
			pop.last = index
		}
	}
	return nil
}
