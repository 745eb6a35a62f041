package vocab

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/speakmesh/adapter"
	"github.com/hupe1980/speakmesh/core"
)

// Metadata keys stored with every indexed word.
const (
	MetaWord       = "word"
	MetaDefinition = "definition"
	MetaSentence   = "sentence"
)

// IndexOptions configure an Index.
type IndexOptions struct {
	// Path is the directory of the persistent database. Empty keeps the
	// index in memory.
	Path string
	// Collection names the chromem-go collection.
	Collection string
	// TopK is the number of matches considered per keyword.
	TopK int
	// MinSimilarity drops matches below this cosine similarity.
	MinSimilarity float32
	// Concurrency bounds parallel embedding calls while indexing.
	Concurrency int
}

// Index is a vector index of vocabulary words. It implements
// adapter.Retriever.
type Index struct {
	db            *chromem.DB
	collection    *chromem.Collection
	topK          int
	minSimilarity float32
	concurrency   int
	embed         adapter.EmbeddingFunc
}

var _ adapter.Retriever = (*Index)(nil)

// NewIndex opens (or creates) the index. embed must be the same function the
// index was built with.
func NewIndex(embed adapter.EmbeddingFunc, optFns ...func(o *IndexOptions)) (*Index, error) {
	opts := IndexOptions{
		Collection:    "vocabulary",
		TopK:          1,
		MinSimilarity: 0.15,
		Concurrency:   runtime.NumCPU(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if embed == nil {
		return nil, errors.New("vocabulary index requires an embedding function")
	}

	var db *chromem.DB
	if opts.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(opts.Path, false)
		if err != nil {
			return nil, fmt.Errorf("open vocabulary db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	collection, err := db.GetOrCreateCollection(opts.Collection, nil, chromem.EmbeddingFunc(embed))
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", opts.Collection, err)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Index{
		db:            db,
		collection:    collection,
		topK:          max(opts.TopK, 1),
		minSimilarity: opts.MinSimilarity,
		concurrency:   opts.Concurrency,
		embed:         embed,
	}, nil
}

// Count returns the number of indexed words.
func (x *Index) Count() int { return x.collection.Count() }

// Add embeds and stores words. Embeddings are computed concurrently; the
// first failure aborts the batch before anything is written.
func (x *Index) Add(ctx context.Context, words []Word) error {
	if len(words) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(words))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(x.concurrency)
	for i, w := range words {
		g.Go(func() error {
			text := w.EmbeddingText()
			vec, err := x.embed(gctx, text)
			if err != nil {
				return fmt.Errorf("embed %q: %w", w.Word, err)
			}
			docs[i] = chromem.Document{
				ID:        strings.ToLower(w.Word),
				Content:   text,
				Embedding: vec,
				Metadata: map[string]string{
					MetaWord:       w.Word,
					MetaDefinition: w.Definition,
					MetaSentence:   w.Sentence,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := x.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("store vocabulary: %w", err)
	}
	return nil
}

// Search returns up to TopK candidates per keyword whose similarity reaches
// MinSimilarity, in keyword order. An empty index yields no candidates.
func (x *Index) Search(ctx context.Context, keywords []string) ([]core.Candidate, error) {
	n := min(x.topK, x.collection.Count())
	if n == 0 {
		return nil, nil
	}
	var out []core.Candidate
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		results, err := x.collection.Query(ctx, kw, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", kw, err)
		}
		for _, r := range results {
			if r.Similarity < x.minSimilarity {
				continue
			}
			out = append(out, core.Candidate{
				ID:       r.ID,
				Keyword:  kw,
				Content:  r.Content,
				Score:    float64(r.Similarity),
				Metadata: r.Metadata,
			})
		}
	}
	return out, nil
}
