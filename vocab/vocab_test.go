package vocab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh/adapter/mock"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/internal/testutil"
	"github.com/hupe1980/speakmesh/thread"
)

// concepts gives the test embedding one dimension per group of related words.
var concepts = [][]string{
	{"store", "shop", "establishment"},
	{"buy", "bought", "purchase"},
	{"big", "large", "substantial"},
	{"school", "education", "institution"},
}

func conceptEmbed(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(text)
	vec := make([]float32, len(concepts)+1)
	for i, group := range concepts {
		for _, w := range group {
			if strings.Contains(text, w) {
				vec[i]++
			}
		}
	}
	vec[len(concepts)] = 0.01
	return vec, nil
}

var testWords = []Word{
	{Word: "establishment", Definition: "a shop or business", Sentence: "The establishment opened in 1990."},
	{Word: "purchase", Definition: "to buy something", Sentence: "She purchased a new laptop."},
	{Word: "substantial", Definition: "large in size or amount", Sentence: "A substantial amount of time."},
}

func newTestIndex(t *testing.T, optFns ...func(o *IndexOptions)) *Index {
	t.Helper()
	idx, err := NewIndex(conceptEmbed, optFns...)
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), testWords))
	return idx
}

func TestParseWords(t *testing.T) {
	words, err := ParseWords([]byte(`
- word: establishment
  definition: a shop or business
  collocations: [local establishment]
- word: " Establishment "
- word: purchase
`))
	require.NoError(t, err)
	require.Len(t, words, 2)
	assert.Equal(t, "establishment", words[0].Word)
	assert.Equal(t, "Word: establishment | Definition: a shop or business | Collocations: local establishment", words[0].EmbeddingText())

	words, err = ParseWords([]byte(`[{"word": "purchase", "definition": "to buy"}]`))
	require.NoError(t, err)
	assert.Equal(t, "to buy", words[0].Definition)

	_, err = ParseWords([]byte(`- definition: no word`))
	assert.Error(t, err)
	_, err = ParseWords([]byte(`[]`))
	assert.Error(t, err)
}

func TestLoadWords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "words.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- word: purchase\n  definition: to buy\n"), 0o600))
	words, err := LoadWords(path)
	require.NoError(t, err)
	assert.Len(t, words, 1)

	_, err = LoadWords(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIndex_Search(t *testing.T) {
	idx := newTestIndex(t)
	assert.Equal(t, 3, idx.Count())

	got, err := idx.Search(context.Background(), []string{"store", "bought", "", "weather"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "store", got[0].Keyword)
	assert.Equal(t, "establishment", got[0].Metadata[MetaWord])
	assert.Equal(t, "bought", got[1].Keyword)
	assert.Equal(t, "purchase", got[1].Metadata[MetaWord])
	assert.Greater(t, got[0].Score, 0.9)
}

func TestIndex_TopKCappedAtCount(t *testing.T) {
	idx := newTestIndex(t, func(o *IndexOptions) { o.TopK = 10; o.MinSimilarity = 0 })
	got, err := idx.Search(context.Background(), []string{"store"})
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestIndex_Empty(t *testing.T) {
	idx, err := NewIndex(conceptEmbed)
	require.NoError(t, err)
	got, err := idx.Search(context.Background(), []string{"store"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndex_Persistent(t *testing.T) {
	dir := t.TempDir()
	newTestIndex(t, func(o *IndexOptions) { o.Path = dir })

	reopened, err := NewIndex(conceptEmbed, func(o *IndexOptions) { o.Path = dir })
	require.NoError(t, err)
	assert.Equal(t, 3, reopened.Count())
}

func TestIndex_AddEmbeddingFailure(t *testing.T) {
	idx, err := NewIndex(func(context.Context, string) ([]float32, error) { return nil, errors.New("quota") })
	require.NoError(t, err)
	assert.Error(t, idx.Add(context.Background(), testWords))
	assert.Equal(t, 0, idx.Count())
}

func TestIndex_MockEmbedding(t *testing.T) {
	idx, err := NewIndex(mock.Embed, func(o *IndexOptions) { o.MinSimilarity = 0 })
	require.NoError(t, err)
	require.NoError(t, idx.Add(context.Background(), testWords))
	got, err := idx.Search(context.Background(), []string{"establishment"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "establishment", got[0].Metadata[MetaWord])
}

func TestCachedEmbedding(t *testing.T) {
	var calls atomic.Int32
	embed, err := CachedEmbedding(func(ctx context.Context, text string) ([]float32, error) {
		calls.Add(1)
		return conceptEmbed(ctx, text)
	}, 2)
	require.NoError(t, err)

	for range 3 {
		_, err := embed(context.Background(), "store")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err = CachedEmbedding(conceptEmbed, 0)
	assert.Error(t, err)
}

func TestService_ForThread(t *testing.T) {
	ctx := context.Background()
	store := thread.NewInMemoryStore()
	_, err := testutil.NewThreadBuilder("t-1").
		User("I go to the store yesterday").Correct("I went to the store yesterday", "Past tense").
		User("I buyed many thing").Correct("I bought many things", "Past tense").
		Seed(ctx, store)
	require.NoError(t, err)

	svc := NewService(store, &mock.KeywordExtractor{}, newTestIndex(t), &mock.UsageExplainer{})
	got, err := svc.ForThread(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	byTarget := map[string]Suggestion{}
	for _, s := range got {
		byTarget[s.TargetWord] = s
	}
	assert.Equal(t, "establishment", byTarget["store"].Word)
	assert.Equal(t, "a shop or business", byTarget["store"].Definition)
	assert.Contains(t, byTarget["store"].UsageContext, "'store'")
	assert.Equal(t, "purchase", byTarget["bought"].Word)
}

func TestService_ForThread_Unknown(t *testing.T) {
	svc := NewService(thread.NewInMemoryStore(), &mock.KeywordExtractor{}, newTestIndex(t), nil)
	got, err := svc.ForThread(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)

	_, err = svc.ForThread(context.Background(), "bad id")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestService_Suggest(t *testing.T) {
	idx := newTestIndex(t)

	t.Run("keywords capped", func(t *testing.T) {
		svc := NewService(nil, &mock.KeywordExtractor{Max: 10}, idx, nil, func(o *Options) { o.MaxKeywords = 1 })
		got, err := svc.Suggest(context.Background(), []string{"The establishment sold big substantial items"})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), 1)
	})

	t.Run("self match skipped", func(t *testing.T) {
		svc := NewService(nil, &mock.KeywordExtractor{}, idx, nil)
		got, err := svc.Suggest(context.Background(), []string{"purchase"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("extractor failure", func(t *testing.T) {
		svc := NewService(nil, &mock.KeywordExtractor{Behavior: mock.Behavior{Err: errors.New("down")}}, idx, nil)
		got, err := svc.Suggest(context.Background(), []string{"I went to the store"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("explainer failure keeps suggestions", func(t *testing.T) {
		svc := NewService(nil, &mock.KeywordExtractor{}, idx, &mock.UsageExplainer{Behavior: mock.Behavior{Err: errors.New("down")}})
		got, err := svc.Suggest(context.Background(), []string{"I went to the store"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Empty(t, got[0].UsageContext)
	})
}
