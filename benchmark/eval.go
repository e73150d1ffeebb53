package benchmark

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/hupe1980/vecbench"
	"github.com/hupe1980/vecbench/query"
)

// GoldItem is one question with the chunk or document id expected to answer it.
type GoldItem struct {
	Question   string `json:"question"`
	ExpectedID string `json:"expected_id"`
}

// QuestionResult is the outcome for one GoldItem.
type QuestionResult struct {
	Question   string    `json:"question"`
	ExpectedID string    `json:"expected_id"`
	Found      bool      `json:"found"`
	Rank       int       `json:"rank,omitempty"` // 1-based, 0 when not found
	TopIDs     []string  `json:"top_ids"`
	TopScores  []float32 `json:"top_scores"`
}

// EvalReport aggregates a golden-set evaluation.
type EvalReport struct {
	K       int              `json:"k"`
	Total   int              `json:"total"`
	HitRate float64          `json:"hit_rate_at_k"`
	MRR     float64          `json:"mrr"`
	NDCG    float64          `json:"ndcg"`
	Results []QuestionResult `json:"results,omitempty"`
}

// Evaluate runs every gold question through e against h. A hit matches the
// expected id either as a chunk id or as a document id.
func Evaluate(ctx context.Context, e *query.Engine, h query.Searcher, gold []GoldItem, k int, model string) (*EvalReport, error) {
	if k <= 0 {
		return nil, vecbench.NewConfigError("k", fmt.Sprintf("must be positive, got %d", k))
	}

	rep := &EvalReport{K: k, Total: len(gold), Results: make([]QuestionResult, 0, len(gold))}
	var rrSum, ndcgSum float64
	hits := 0

	for _, g := range gold {
		res, err := e.Query(ctx, h, g.Question, k, model)
		if err != nil {
			return nil, fmt.Errorf("benchmark: evaluate %q: %w", g.Question, err)
		}

		qr := QuestionResult{
			Question:   g.Question,
			ExpectedID: g.ExpectedID,
			TopIDs:     make([]string, len(res)),
			TopScores:  make([]float32, len(res)),
		}
		for i, hit := range res {
			qr.TopIDs[i] = hit.ChunkID
			qr.TopScores[i] = hit.Score
			if !qr.Found && (hit.ChunkID == g.ExpectedID || hit.DocumentID == g.ExpectedID) {
				qr.Found = true
				qr.Rank = i + 1
			}
		}
		if qr.Found {
			hits++
			rrSum += 1 / float64(qr.Rank)
			// Binary relevance with a single relevant item: the ideal DCG is 1.
			ndcgSum += 1 / math.Log2(float64(qr.Rank)+1)
		}
		rep.Results = append(rep.Results, qr)
	}

	if rep.Total > 0 {
		n := float64(rep.Total)
		rep.HitRate = float64(hits) / n
		rep.MRR = rrSum / n
		rep.NDCG = ndcgSum / n
	}
	return rep, nil
}

// Regression and Recovery are the Delta values for a question that went from
// hit to miss and from miss to hit between two reports.
const (
	Regression = math.MaxInt32
	Recovery   = math.MinInt32
)

// QuestionDelta compares one question across two evaluations.
type QuestionDelta struct {
	Question   string `json:"question"`
	ExpectedID string `json:"expected_id"`
	LeftRank   int    `json:"left_rank"`
	RightRank  int    `json:"right_rank"`

	// Delta is RightRank-LeftRank when both found the answer (positive is
	// worse on the right), Regression or Recovery when only one did, and 0
	// when neither did.
	Delta int `json:"delta"`
}

// Comparison is the per-question difference between two evaluations over
// the same golden set.
type Comparison struct {
	K            int             `json:"k"`
	Left         EvalReport      `json:"left"`
	Right        EvalReport      `json:"right"`
	Regressions  int             `json:"regressions"`
	Improvements int             `json:"improvements"`
	Questions    []QuestionDelta `json:"questions"`
}

// Compare matches the results of left and right question by question.
func Compare(left, right *EvalReport) (*Comparison, error) {
	if len(left.Results) != len(right.Results) {
		return nil, fmt.Errorf("benchmark: compare: %d vs %d questions", len(left.Results), len(right.Results))
	}

	c := &Comparison{K: left.K, Left: *left, Right: *right}
	c.Left.Results, c.Right.Results = nil, nil

	for i, a := range left.Results {
		b := right.Results[i]
		if a.Question != b.Question || a.ExpectedID != b.ExpectedID {
			return nil, fmt.Errorf("benchmark: compare: question %d differs", i)
		}
		d := QuestionDelta{Question: a.Question, ExpectedID: a.ExpectedID, LeftRank: a.Rank, RightRank: b.Rank}
		switch {
		case a.Found && b.Found:
			d.Delta = b.Rank - a.Rank
		case a.Found:
			d.Delta = Regression
		case b.Found:
			d.Delta = Recovery
		}
		switch {
		case d.Delta > 0:
			c.Regressions++
		case d.Delta < 0:
			c.Improvements++
		}
		c.Questions = append(c.Questions, d)
	}
	return c, nil
}

var errGoldColumns = errors.New("benchmark: golden set needs question and expected_id columns")

// ReadGoldCSV reads a golden set with a header row. Column names are matched
// case-insensitively; rows with an empty question or id are skipped.
func ReadGoldCSV(r io.Reader) ([]GoldItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("benchmark: read golden header: %w", err)
	}
	qi, ei := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "question":
			qi = i
		case "expected_id":
			ei = i
		}
	}
	if qi < 0 || ei < 0 {
		return nil, errGoldColumns
	}

	var items []GoldItem
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if qi >= len(row) || ei >= len(row) {
			continue
		}
		items = appendGold(items, row[qi], row[ei])
	}
	return items, nil
}

// ReadGoldJSON reads a JSON array of {"question", "expected_id"} objects.
func ReadGoldJSON(r io.Reader) ([]GoldItem, error) {
	var raw []map[string]any
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("benchmark: decode golden set: %w", err)
	}
	var items []GoldItem
	for _, obj := range raw {
		var q, e string
		for k, v := range obj {
			switch strings.ToLower(strings.TrimSpace(k)) {
			case "question":
				q = fmt.Sprint(v)
			case "expected_id":
				e = fmt.Sprint(v)
			}
		}
		items = appendGold(items, q, e)
	}
	if len(raw) > 0 && len(items) == 0 {
		return nil, errGoldColumns
	}
	return slices.Clip(items), nil
}

func appendGold(items []GoldItem, q, e string) []GoldItem {
	q, e = strings.TrimSpace(q), strings.TrimSpace(e)
	if q == "" || e == "" {
		return items
	}
	return append(items, GoldItem{Question: q, ExpectedID: e})
}
