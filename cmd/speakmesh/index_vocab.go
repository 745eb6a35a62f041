package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/speakmesh"
	"github.com/hupe1980/speakmesh/vocab"
)

func newIndexVocabCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index-vocab",
		Short: "Build the vocabulary index from a word list",
		Long: `index-vocab embeds every entry of a YAML or JSON word list and stores it
in the persistent vocabulary index used for suggestions. Entries already in
the index are replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			wordsPath, _ := cmd.Flags().GetString("words")
			if wordsPath == "" {
				wordsPath = cfg.Vocab.WordList
			}
			if wordsPath == "" {
				return errors.New("no word list: pass --words or set vocab.word_list")
			}
			if out, _ := cmd.Flags().GetString("out"); out != "" {
				cfg.Vocab.Path = out
			}
			if cfg.Vocab.Path == "" {
				return errors.New("no index directory: pass --out or set vocab.path")
			}

			logger := speakmesh.NewLogger(cfg.Log)
			adapters, err := speakmesh.NewAdapters(cfg.Adapters, logger)
			if err != nil {
				return err
			}
			if adapters.Embed == nil {
				return errors.New("the configured provider has no embedding model")
			}

			words, err := vocab.LoadWords(wordsPath)
			if err != nil {
				return err
			}
			embed, err := vocab.CachedEmbedding(adapters.Embed, max(cfg.Vocab.CacheSize, len(words)))
			if err != nil {
				return err
			}
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			idx, err := vocab.NewIndex(embed, func(o *vocab.IndexOptions) {
				o.Path = cfg.Vocab.Path
				if cfg.Vocab.Collection != "" {
					o.Collection = cfg.Vocab.Collection
				}
				if concurrency > 0 {
					o.Concurrency = concurrency
				}
			})
			if err != nil {
				return err
			}
			if err := idx.Add(cmd.Context(), words); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d words into %s (%d total)\n", len(words), cfg.Vocab.Path, idx.Count())
			return nil
		},
	}
	cmd.Flags().String("words", "", "Word list file (overrides vocab.word_list)")
	cmd.Flags().String("out", "", "Index directory (overrides vocab.path)")
	cmd.Flags().Int("concurrency", 0, "Parallel embedding requests (default: number of CPUs)")
	return cmd
}
