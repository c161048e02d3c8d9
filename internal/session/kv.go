package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// KVRunner is an in-memory key/value statement set shared by every session
// it is handed to. Statements are one verb followed by arguments:
//
//	PUT <key> <value...>   value defaults to the RUN parameters when omitted
//	GET <key>
//	DELETE <key>
//	LIST [prefix]
type KVRunner struct {
	mu    sync.RWMutex
	store map[string]string
}

func NewKVRunner() *KVRunner {
	return &KVRunner{store: make(map[string]string)}
}

func (r *KVRunner) Run(ctx context.Context, st Statement) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	verb, rest := splitWord(st.Text)
	switch strings.ToUpper(verb) {
	case "PUT":
		key, value := splitWord(rest)
		if key == "" {
			return Result{}, fmt.Errorf("kv: missing key")
		}
		if value == "" {
			value = string(st.Parameters)
		}
		r.mu.Lock()
		r.store[key] = value
		r.mu.Unlock()
		return Result{Summary: "ok put key=" + key}, nil
	case "GET":
		key := strings.TrimSpace(rest)
		if key == "" {
			return Result{}, fmt.Errorf("kv: missing key")
		}
		r.mu.RLock()
		val, ok := r.store[key]
		r.mu.RUnlock()
		if !ok {
			return Result{}, fmt.Errorf("kv: missing key=%s", key)
		}
		return Result{Summary: val}, nil
	case "DELETE":
		key := strings.TrimSpace(rest)
		if key == "" {
			return Result{}, fmt.Errorf("kv: missing key")
		}
		r.mu.Lock()
		delete(r.store, key)
		r.mu.Unlock()
		return Result{Summary: "ok delete key=" + key}, nil
	case "LIST":
		prefix := strings.TrimSpace(rest)
		r.mu.RLock()
		keys := make([]string, 0, len(r.store))
		for k := range r.store {
			if prefix == "" || strings.HasPrefix(k, prefix) {
				keys = append(keys, k)
			}
		}
		r.mu.RUnlock()
		sort.Strings(keys)
		return Result{Summary: strings.Join(keys, "\n")}, nil
	case "":
		return Result{}, fmt.Errorf("empty statement")
	default:
		return Result{}, fmt.Errorf("kv: unknown verb %q", strings.ToUpper(verb))
	}
}

func (r *KVRunner) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.store)
}

// splitWord returns the first space-separated word of text and the trimmed
// remainder. Case is preserved; keys are case sensitive.
func splitWord(text string) (string, string) {
	head, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	return head, strings.TrimSpace(rest)
}
