package quiz

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/victornm/livequiz/internal/domain"
)

const ControllerArithmetic = "arithmetic"

type arithmeticSettings struct {
	Operations []string `mapstructure:"operations"`
	MaxOperand int      `mapstructure:"max_operand"`
	Options    int      `mapstructure:"options"`
	Seed       uint64   `mapstructure:"seed"`
}

var operations = map[string]func(a, b int) int{
	"+": func(a, b int) int { return a + b },
	"-": func(a, b int) int { return a - b },
	"*": func(a, b int) int { return a * b },
}

// ArithmeticSource generates mental arithmetic questions on the fly.
type ArithmeticSource struct {
	ops        []string
	maxOperand int
	options    int
	rng        *rand.Rand
}

func NewArithmeticSource(settings map[string]any) (Source, error) {
	s := arithmeticSettings{
		Operations: []string{"+", "-", "*"},
		MaxOperand: 12,
		Options:    4,
	}
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}

	if len(s.Operations) == 0 {
		return nil, fmt.Errorf("arithmetic quiz has no operations")
	}
	for _, op := range s.Operations {
		if _, ok := operations[op]; !ok {
			return nil, fmt.Errorf("unsupported operation %q", op)
		}
	}
	if s.MaxOperand < 1 {
		return nil, fmt.Errorf("max_operand must be positive, got %d", s.MaxOperand)
	}
	if s.Options < 2 {
		return nil, fmt.Errorf("options must be at least 2, got %d", s.Options)
	}

	seed := s.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	return &ArithmeticSource{
		ops:        s.Operations,
		maxOperand: s.MaxOperand,
		options:    s.Options,
		rng:        rand.New(rand.NewPCG(seed, seed)),
	}, nil
}

func (s *ArithmeticSource) Question() (domain.Question, error) {
	op := s.ops[s.rng.IntN(len(s.ops))]
	a, b := s.rng.IntN(s.maxOperand)+1, s.rng.IntN(s.maxOperand)+1
	answer := operations[op](a, b)

	values := []int{answer}
	seen := map[int]bool{answer: true}
	for spread := 1; len(values) < s.options; spread++ {
		for _, v := range []int{answer + spread, answer - spread} {
			if len(values) < s.options && !seen[v] && s.rng.IntN(2) == 0 {
				seen[v] = true
				values = append(values, v)
			}
		}
	}

	s.rng.Shuffle(len(values), func(i, j int) {
		values[i], values[j] = values[j], values[i]
	})

	q := domain.Question{
		Text:    fmt.Sprintf("What is %d %s %d?", a, op, b),
		Options: make([]string, len(values)),
	}
	for i, v := range values {
		q.Options[i] = strconv.Itoa(v)
		if v == answer {
			q.CorrectOptionIndex = i
		}
	}

	return q, nil
}
