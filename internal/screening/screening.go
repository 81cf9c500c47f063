// Package screening holds the static pre-screening rule table. It has zero
// external dependencies: the table is plain data plus a lookup.
package screening

import (
	"errors"
	"fmt"
)

// Outcome is the result of evaluating one answer.
type Outcome string

const (
	Qualified    Outcome = "qualified"
	Disqualified Outcome = "disqualified"
)

const (
	AnswerYes    = "Yes"
	AnswerNo     = "No"
	AnswerUnsure = "Unsure"
)

var (
	ErrUnknownQuestion = errors.New("unknown question")
	ErrUnknownAnswer   = errors.New("answer not allowed for question")
)

// Question is one yes/no/unsure screening step. ID is used as a form field
// key and must never change once published.
type Question struct {
	ID                string
	Prompt            string
	Answers           []string
	Outcomes          map[string]Outcome
	DisqualifyMessage string
}

// Evaluate maps an allowed answer to its outcome.
func (q Question) Evaluate(answer string) (Outcome, error) {
	o, ok := q.Outcomes[answer]
	if !ok {
		return "", fmt.Errorf("%w: %q for %s", ErrUnknownAnswer, answer, q.ID)
	}
	return o, nil
}

// QualifyingAnswer returns the first allowed answer mapped to Qualified.
func (q Question) QualifyingAnswer() string {
	for _, a := range q.Answers {
		if q.Outcomes[a] == Qualified {
			return a
		}
	}
	return ""
}

// DisqualifyingAnswer returns the first allowed answer mapped to Disqualified.
func (q Question) DisqualifyingAnswer() string {
	for _, a := range q.Answers {
		if q.Outcomes[a] == Disqualified {
			return a
		}
	}
	return ""
}

// Table is an ordered question list. Order is traversal order.
type Table struct {
	questions []Question
	index     map[string]int
}

// NewTable validates qs and builds a table. Every allowed answer needs
// exactly one outcome and ids must be unique.
func NewTable(qs []Question) (*Table, error) {
	t := &Table{
		questions: make([]Question, len(qs)),
		index:     make(map[string]int, len(qs)),
	}
	for i, q := range qs {
		if q.ID == "" {
			return nil, fmt.Errorf("question %d: empty id", i)
		}
		if _, dup := t.index[q.ID]; dup {
			return nil, fmt.Errorf("question %s: duplicate id", q.ID)
		}
		if len(q.Answers) == 0 {
			return nil, fmt.Errorf("question %s: no answers", q.ID)
		}
		if len(q.Outcomes) != len(q.Answers) {
			return nil, fmt.Errorf("question %s: %d answers but %d outcomes", q.ID, len(q.Answers), len(q.Outcomes))
		}
		for _, a := range q.Answers {
			switch q.Outcomes[a] {
			case Qualified, Disqualified:
			default:
				return nil, fmt.Errorf("question %s: answer %q has no outcome", q.ID, a)
			}
		}
		t.questions[i] = q
		t.index[q.ID] = i
	}
	return t, nil
}

// MustTable is NewTable for package-level literals.
func MustTable(qs []Question) *Table {
	t, err := NewTable(qs)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Table) Len() int { return len(t.questions) }

// At returns the question at position i.
func (t *Table) At(i int) Question { return t.questions[i] }

// Questions returns a copy of the ordered list.
func (t *Table) Questions() []Question {
	out := make([]Question, len(t.questions))
	copy(out, t.questions)
	return out
}

// Lookup finds a question by id.
func (t *Table) Lookup(id string) (Question, int, bool) {
	i, ok := t.index[id]
	if !ok {
		return Question{}, -1, false
	}
	return t.questions[i], i, true
}

// Evaluate returns the outcome of answering question id with answer.
func (t *Table) Evaluate(id, answer string) (Outcome, error) {
	q, _, ok := t.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownQuestion, id)
	}
	return q.Evaluate(answer)
}
