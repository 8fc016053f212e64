package domain

import "fmt"

// DecodeComments decodes the result of getComments. Each element of raw is a
// positional [commenter, timeStamp, comment] tuple. Order is preserved as
// returned by the ledger.
func DecodeComments(raw []any) ([]Comment, error) {
	out := make([]Comment, 0, len(raw))
	for i, item := range raw {
		tuple, ok := item.([]any)
		if !ok || len(tuple) != 3 {
			return nil, fmt.Errorf("domain: comment %d: malformed tuple %T", i, item)
		}
		author, err := asAddress(tuple[0])
		if err != nil {
			return nil, fmt.Errorf("domain: comment %d author: %w", i, err)
		}
		ts, err := asUint64(tuple[1])
		if err != nil {
			return nil, fmt.Errorf("domain: comment %d timestamp: %w", i, err)
		}
		body, ok := tuple[2].(string)
		if !ok {
			return nil, fmt.Errorf("domain: comment %d body: want string, got %T", i, tuple[2])
		}
		out = append(out, Comment{Author: author, Timestamp: int64(ts), Body: body})
	}
	return out, nil
}
