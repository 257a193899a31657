// Package batch turns scoring requests into token-bounded sub-batches and
// drives them through a bounded worker pool with retry and deferral.
package batch

import "github.com/kalambet/sift/internal/llm"

// Request is one model call, keyed by the item identifier it scores.
type Request struct {
	ID              string
	Body            llm.ChatRequest
	EstimatedTokens int
	Meta            map[string]string
}

// SubBatch is an ordered group of requests whose token estimates sum to at
// most the split limit, unless it holds a single oversized request.
type SubBatch struct {
	Index    int
	Requests []Request
	Tokens   int
}

// Len returns the number of requests in the sub-batch.
func (sb SubBatch) Len() int { return len(sb.Requests) }

// Split walks requests in order and closes the current sub-batch whenever
// the next request would push it over tokenLimit. A request that alone
// exceeds the limit forms its own sub-batch. tokenLimit <= 0 yields a single
// sub-batch.
func Split(requests []Request, tokenLimit int) []SubBatch {
	if len(requests) == 0 {
		return nil
	}
	if tokenLimit <= 0 {
		sb := SubBatch{Requests: requests}
		for _, r := range requests {
			sb.Tokens += r.EstimatedTokens
		}
		return []SubBatch{sb}
	}

	var out []SubBatch
	cur := SubBatch{}
	for _, r := range requests {
		if len(cur.Requests) > 0 && cur.Tokens+r.EstimatedTokens > tokenLimit {
			out = append(out, cur)
			cur = SubBatch{Index: len(out)}
		}
		cur.Requests = append(cur.Requests, r)
		cur.Tokens += r.EstimatedTokens
	}
	return append(out, cur)
}
