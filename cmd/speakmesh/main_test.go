package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/speakmesh"
	"github.com/hupe1980/speakmesh/client"
	"github.com/hupe1980/speakmesh/config"
	"github.com/hupe1980/speakmesh/core"
	"github.com/hupe1980/speakmesh/logging"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version", "--json"})
	require.NoError(t, root.Execute())

	var got map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, version, got["version"])
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"version", "serve", "chat", "index-vocab"})
}

func TestIndexVocabCmd(t *testing.T) {
	dir := t.TempDir()
	words := filepath.Join(dir, "words.yaml")
	require.NoError(t, os.WriteFile(words, []byte("- word: establishment\n  definition: a shop\n- word: purchase\n  definition: to buy\n"), 0o600))
	t.Setenv("SPEAKMESH_ADAPTERS_PROVIDER", "mock")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"index-vocab", "--words", words, "--out", filepath.Join(dir, "index")})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "indexed 2 words")

	root = newRootCmd()
	root.SetArgs([]string{"index-vocab", "--out", filepath.Join(dir, "index")})
	assert.Error(t, root.Execute(), "a word list is required")
}

func TestChatLoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mesh, err := speakmesh.New(context.Background(), func(o *speakmesh.Options) {
		o.Config = config.Default()
		o.Registerer = prometheus.NewRegistry()
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	defer mesh.Close()
	srv, err := mesh.Server()
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var out bytes.Buffer
	c, err := client.New(ts.URL, func(o *client.Options) {
		o.OnEvent = func(ev core.Event) { printEvent(&out, ev) }
	})
	require.NoError(t, err)

	in := strings.NewReader("I go to school yesterday\n/summary\n/history\n/bogus\n/quit\n")
	require.NoError(t, chatLoop(context.Background(), c, in, &out, false))

	got := out.String()
	assert.Contains(t, got, "partner: ")
	assert.Contains(t, got, "feedback: I went to school yesterday")
	assert.Contains(t, got, "1 corrections")
	assert.Contains(t, got, "unknown command /bogus")
}
