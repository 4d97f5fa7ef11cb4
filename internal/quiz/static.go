package quiz

import (
	"fmt"
	"math/rand/v2"

	"github.com/victornm/livequiz/internal/domain"
)

const ControllerStatic = "static"

type staticSettings struct {
	Questions []domain.Question `mapstructure:"questions"`
	Shuffle   bool              `mapstructure:"shuffle"`
	Seed      uint64            `mapstructure:"seed"`
}

// StaticSource deals a fixed list of questions in order, starting over once
// the list is exhausted. With shuffle set the order is randomized on every pass.
type StaticSource struct {
	questions []domain.Question
	order     []int
	next      int
	rng       *rand.Rand
}

func NewStaticSource(settings map[string]any) (Source, error) {
	var s staticSettings
	if err := decodeSettings(settings, &s); err != nil {
		return nil, err
	}

	if len(s.Questions) == 0 {
		return nil, fmt.Errorf("static quiz has no questions")
	}

	for i, q := range s.Questions {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
	}

	src := &StaticSource{
		questions: s.Questions,
		order:     make([]int, len(s.Questions)),
	}
	for i := range src.order {
		src.order[i] = i
	}

	if s.Shuffle {
		seed := s.Seed
		if seed == 0 {
			seed = rand.Uint64()
		}
		src.rng = rand.New(rand.NewPCG(seed, seed))
		src.shuffle()
	}

	return src, nil
}

func (s *StaticSource) Question() (domain.Question, error) {
	if s.next == len(s.order) {
		s.next = 0
		s.shuffle()
	}

	q := s.questions[s.order[s.next]]
	s.next++

	return q, nil
}

func (s *StaticSource) shuffle() {
	if s.rng == nil {
		return
	}

	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
}
