package hostfunc

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// callKV runs a registered kv function the way a script reaches it, with args
// decoded from JSON.
func callKV(t *testing.T, r *Registry, name, args string) (any, error) {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		t.Fatalf("bad args %s: %v", args, err)
	}
	return r.Call(context.Background(), name, decoded)
}

func TestKVStructuredValues(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)

	values := []string{
		`"text"`,
		`42`,
		`true`,
		`null`,
		`[1, "two", {"three": 3}]`,
		`{"user": {"name": "ada", "tags": ["a", "b"]}, "n": 1.5}`,
	}
	for _, v := range values {
		t.Run(v, func(t *testing.T) {
			if _, err := callKV(t, r, "kv_set", `{"key": "k", "value": `+v+`}`); err != nil {
				t.Fatalf("kv_set: %v", err)
			}
			got, err := callKV(t, r, "kv_get", `{"key": "k"}`)
			if err != nil {
				t.Fatalf("kv_get: %v", err)
			}
			var want any
			json.Unmarshal([]byte(v), &want)
			if !reflect.DeepEqual(got, want) {
				t.Errorf("expected %#v, got %#v", want, got)
			}
		})
	}
}

func TestKVStoredValueIsACopy(t *testing.T) {
	kv := NewKV(KVConfig{})
	ctx := context.Background()

	list := []any{"a"}
	kv.Set(ctx, map[string]any{"key": "l", "value": list})
	list[0] = "changed"

	got, _ := kv.Get(ctx, map[string]any{"key": "l"})
	if got.([]any)[0] != "a" {
		t.Errorf("store should keep the value at set time, got %v", got)
	}
}

func TestKVDefault(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)

	got, err := callKV(t, r, "kv_get", `{"key": "hits", "default": 0}`)
	if err != nil || got != float64(0) {
		t.Errorf("expected default 0, got %v, %v", got, err)
	}
	got, err = callKV(t, r, "kv_get", `{"key": "hits"}`)
	if err != nil || got != nil {
		t.Errorf("missing key without default should be nil, got %v, %v", got, err)
	}
}

func TestKVDeleteAndSortedKeys(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)

	for _, k := range []string{"pear", "apple", "fig"} {
		callKV(t, r, "kv_set", `{"key": "`+k+`", "value": 1}`)
	}
	keys, _ := callKV(t, r, "kv_keys", `{}`)
	if want := []string{"apple", "fig", "pear"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("expected %v, got %v", want, keys)
	}

	if _, err := callKV(t, r, "kv_delete", `{"key": "fig"}`); err != nil {
		t.Fatalf("kv_delete: %v", err)
	}
	if _, err := callKV(t, r, "kv_delete", `{"key": "never-set"}`); err != nil {
		t.Errorf("deleting a missing key is not an error: %v", err)
	}
	keys, _ = callKV(t, r, "kv_keys", `{}`)
	if want := []string{"apple", "pear"}; !reflect.DeepEqual(keys, want) {
		t.Errorf("expected %v, got %v", want, keys)
	}
}

func TestKVLimits(t *testing.T) {
	kv := NewKV(KVConfig{MaxKeySize: 4, MaxValueSize: 8, MaxEntries: 2})
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]any
		err  string
	}{
		{"key too long", map[string]any{"key": "toolong", "value": 1}, "key exceeds"},
		{"encoded value too large", map[string]any{"key": "k", "value": "1234567"}, "value exceeds"},
		{"missing key", map[string]any{"value": 1}, "key required"},
		{"empty key", map[string]any{"key": "", "value": 1}, "key required"},
		{"missing value", map[string]any{"key": "k"}, "value required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := kv.Set(ctx, tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.err) {
				t.Errorf("expected error containing %q, got %v", tt.err, err)
			}
		})
	}

	// "123456" encodes to 8 bytes with its quotes.
	if _, err := kv.Set(ctx, map[string]any{"key": "a", "value": "123456"}); err != nil {
		t.Fatalf("value at the limit rejected: %v", err)
	}
	kv.Set(ctx, map[string]any{"key": "b", "value": 2})
	if _, err := kv.Set(ctx, map[string]any{"key": "c", "value": 3}); err == nil {
		t.Error("expected error for a full store")
	}
	if _, err := kv.Set(ctx, map[string]any{"key": "a", "value": 9}); err != nil {
		t.Errorf("overwrite in a full store failed: %v", err)
	}
	if _, err := kv.Get(ctx, map[string]any{"key": "toolong"}); err == nil {
		t.Error("reads check the key size too")
	}
}

func TestKVZeroConfigIsUnlimited(t *testing.T) {
	kv := NewKV(KVConfig{})
	ctx := context.Background()

	long := strings.Repeat("k", DefaultKVMaxKeySize*2)
	big := strings.Repeat("v", DefaultKVMaxValueSize*2)
	if _, err := kv.Set(ctx, map[string]any{"key": long, "value": big}); err != nil {
		t.Fatalf("zero config should not limit sizes: %v", err)
	}
	for i := 0; i < DefaultKVMaxEntries+10; i++ {
		if _, err := kv.Set(ctx, map[string]any{"key": "k" + strconv.Itoa(i), "value": i}); err != nil {
			t.Fatalf("zero config should not limit entries, failed at %d: %v", i, err)
		}
	}
}

func TestKVUnencodableValue(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	if _, err := kv.Set(context.Background(), map[string]any{"key": "f", "value": func() {}}); err == nil {
		t.Error("expected encode error")
	}
}

func TestKVRegister(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)

	want := []string{"kv_delete", "kv_get", "kv_keys", "kv_set"}
	if got := r.List(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestKVSharedThroughClone(t *testing.T) {
	r := NewRegistry()
	NewKV(DefaultKVConfig()).Register(r)
	clone := r.Clone()

	callKV(t, r, "kv_set", `{"key": "shared", "value": "yes"}`)
	got, _ := callKV(t, clone, "kv_get", `{"key": "shared"}`)
	if got != "yes" {
		t.Errorf("clones reach the same store, got %v", got)
	}
}

func TestKVConcurrent(t *testing.T) {
	kv := NewKV(DefaultKVConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + (n % 26)))
			kv.Set(ctx, map[string]any{"key": key, "value": n})
			kv.Get(ctx, map[string]any{"key": key})
			kv.Keys(ctx, nil)
		}(i)
	}
	wg.Wait()

	keys, _ := kv.Keys(ctx, nil)
	if n := len(keys.([]string)); n != 26 {
		t.Errorf("expected 26 keys, got %d", n)
	}
}
