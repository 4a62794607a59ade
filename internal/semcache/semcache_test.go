package semcache

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/samsaffron/enrich/internal/embedding"
)

type fakeEmbedder struct {
	vectors map[string][]float64
}

func (f *fakeEmbedder) Name() string         { return "fake" }
func (f *fakeEmbedder) DefaultModel() string { return "fake-embed" }

func (f *fakeEmbedder) Embed(ctx context.Context, req embedding.EmbedRequest) (*embedding.EmbeddingResult, error) {
	res := &embedding.EmbeddingResult{Model: "fake-embed"}
	for i, text := range req.Texts {
		vec, ok := f.vectors[text]
		if !ok {
			return nil, errors.New("no vector for " + text)
		}
		res.Embeddings = append(res.Embeddings, embedding.Embedding{Text: text, Index: i, Vector: vec})
	}
	return res, nil
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	emb := &fakeEmbedder{vectors: map[string][]float64{
		"how many orders were placed in 2023?":  {1, 0, 0},
		"how many orders did we get in 2023?":   {0.999, 0.01, 0},
		"which customer spent the most money?":  {0, 1, 0},
		"what is the average ticket per store?": {0, 0, 1},
	}}
	return New(rdb, emb, 0, nil), mr, rdb
}

func TestLookupMissThenHit(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	const model = "openai:gpt-4o-mini:0"

	if _, ok, err := c.Lookup(ctx, "how many orders were placed in 2023?", model); err != nil || ok {
		t.Fatalf("Lookup on empty cache: ok=%v err=%v", ok, err)
	}
	if err := c.Update(ctx, "how many orders were placed in 2023?", "There were 1,204 orders.", model); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok, err := c.Lookup(ctx, "how many orders did we get in 2023?", model)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !ok || got != "There were 1,204 orders." {
		t.Fatalf("Lookup=%q,%v, want cached answer", got, ok)
	}

	if _, ok, _ := c.Lookup(ctx, "which customer spent the most money?", model); ok {
		t.Fatal("unrelated question should miss")
	}

	if diff := cmp.Diff(Stats{Hits: 1, Misses: 2}, c.Stats()); diff != "" {
		t.Fatalf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupScopedByModel(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	if err := c.Update(ctx, "how many orders were placed in 2023?", "1204", "model-a"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, ok, _ := c.Lookup(ctx, "how many orders were placed in 2023?", "model-b"); ok {
		t.Fatal("entry from another model should not hit")
	}
}

func TestUpdateStoresFields(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	if err := c.Update(ctx, "which customer spent the most money?", "Acme", "m"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	keys := mr.Keys()
	if len(keys) != 1 || !strings.HasPrefix(keys[0], llmPrefix("m")+":") {
		t.Fatalf("keys=%q", keys)
	}
	if got := mr.HGet(keys[0], "prompt"); got != "which customer spent the most money?" {
		t.Fatalf("prompt=%q", got)
	}
	if got := mr.HGet(keys[0], "vector"); len(got) != 12 {
		t.Fatalf("vector has %d bytes, want 12", len(got))
	}
}

func TestClearKeepsOtherKeys(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	for _, q := range []string{"how many orders were placed in 2023?", "which customer spent the most money?"} {
		if err := c.Update(ctx, q, "a", "m"); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if err := mr.Set("session:1", "keep"); err != nil {
		t.Fatal(err)
	}

	n, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted=%d, want 2", n)
	}
	if diff := cmp.Diff([]string{"session:1"}, mr.Keys()); diff != "" {
		t.Fatalf("remaining keys (-want +got):\n%s", diff)
	}
}

func TestKeysSizeHistory(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	if err := c.Update(ctx, "what is the average ticket per store?", "42.10", "m"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := mr.Set("other", "x"); err != nil {
		t.Fatal(err)
	}

	keys, err := c.Keys(ctx, KeyPrefix+":*")
	if err != nil || len(keys) != 1 {
		t.Fatalf("Keys=%q err=%v", keys, err)
	}
	all, err := c.Keys(ctx, "")
	if err != nil || len(all) != 2 {
		t.Fatalf("Keys(all)=%q err=%v", all, err)
	}

	size, err := c.Size(ctx)
	if err != nil || size != 2 {
		t.Fatalf("Size=%d err=%v", size, err)
	}

	history, err := c.History(ctx)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []Entry{{Key: keys[0], Prompt: "what is the average ticket per store?", Response: "42.10", LLMString: "m"}}
	if diff := cmp.Diff(want, history); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupEmbedError(t *testing.T) {
	c, _, _ := newTestCache(t)
	if _, _, err := c.Lookup(context.Background(), "unknown question", "m"); err == nil {
		t.Fatal("expected embedding error")
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := []float64{0.5, -1, 0.25}
	out, err := decodeVector(encodeVector(in))
	if err != nil {
		t.Fatalf("decodeVector: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("vector mismatch (-want +got):\n%s", diff)
	}
	if _, err := decodeVector([]byte{1, 2, 3}); !errors.Is(err, errBadVector) {
		t.Fatalf("err=%v, want errBadVector", err)
	}
}
