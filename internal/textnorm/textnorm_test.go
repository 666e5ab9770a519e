package textnorm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duplike-go/internal/config"
	"duplike-go/internal/model"
	"duplike-go/pkg/errs"
)

func newNormalizer() *Normalizer {
	cfg := config.Default()
	return New(cfg.Columns, cfg.Index.Platforms)
}

func record(t *testing.T, row model.Row) model.Record {
	t.Helper()
	rec, err := model.NewRecord(row)
	require.NoError(t, err)
	return rec
}

func TestClean(t *testing.T) {
	cases := map[string]string{
		"":                                         "",
		"  App   CRASHES\ton Login  ":              "app crashes on login",
		"<b>Bold</b> text":                         "bold text",
		"see `stack.trace()` here":                 "see here",
		"mail me at john.doe@example.com now":      "mail me at email now",
		"open https://example.com/x?y=1 please":    "open url please",
		"server 10.0.0.1 down":                     "server ip down",
		"h1. Title *bold* # heading > quote":       "title bold heading quote",
		"version 5.2.1, (build) [x]":               "version 5 2 1 build x",
		"café\u200b zero":                          "café zero",
		"hash 0123456789abcdef0123456789abcdef ok": "hash hex ok",
	}
	for in, want := range cases {
		assert.Equal(t, want, Clean(in), "input %q", in)
	}
}

func TestClean_Idempotent(t *testing.T) {
	in := "Login *fails* on <i>BiP</i> 5.2.1 - see https://jira.example.com/BIP-1"
	once := Clean(in)
	assert.Equal(t, once, Clean(once))
}

func TestPlatform(t *testing.T) {
	platforms := []string{"android", "ios"}
	assert.Equal(t, "android", Platform("BiP Android Client", platforms))
	assert.Equal(t, "ios", Platform("iPhone App", platforms))
	assert.Equal(t, "ios", Platform("iPad", platforms))
	assert.Equal(t, "ios", Platform("IOS", platforms))
	assert.Equal(t, "unknown", Platform("Web", platforms))
	assert.Equal(t, "unknown", Platform("", platforms))
	assert.Equal(t, "web", Platform("Web Portal", []string{"android", "ios", "web"}))
}

func TestPlatformFilter(t *testing.T) {
	platforms := []string{"android", "ios"}
	p, ok := PlatformFilter(" Android ", platforms)
	assert.True(t, ok)
	assert.Equal(t, "android", p)

	p, ok = PlatformFilter("unknown", platforms)
	assert.True(t, ok)
	assert.Equal(t, "unknown", p)

	_, ok = PlatformFilter("windows", platforms)
	assert.False(t, ok)
}

func TestPartitions(t *testing.T) {
	assert.Equal(t, []string{"android", "ios", "unknown"}, Partitions([]string{"Android", "ios", "unknown", "ios"}))
	assert.Equal(t, []string{"unknown"}, Partitions(nil))
}

func TestExtractVersionAndLanguage(t *testing.T) {
	assert.Equal(t, "5.2.1", ExtractVersion("BiP 5.2.1 (build 300)"))
	assert.Equal(t, "N/A", ExtractVersion(" N/A "))
	assert.Equal(t, "en", LanguageCode("en (0.75)"))
	assert.Equal(t, "tr", LanguageCode("TR"))
	assert.Equal(t, "", LanguageCode("1x"))
}

func TestDetectApplication(t *testing.T) {
	known := []string{"BiP", "TV+", "Fizy"}
	assert.Equal(t, "TV+", DetectApplication("video stalls in tv+ player", known))
	assert.Equal(t, "BiP", DetectApplication("BIP crashes", known))
	assert.Equal(t, "", DetectApplication("nothing here", known))
}

func TestResolveSchema_SelectedColumns(t *testing.T) {
	n := newNormalizer()
	recs := []model.Record{record(t, model.Row{"Summary": "a", "Description": "b", "Component": "Android"})}

	schema, err := n.ResolveSchema([]string{"Summary", "Description", "Component"}, recs, []string{"Description", "Missing"}, []string{"Component"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Description"}, schema.TextColumns)
	assert.Equal(t, []string{"Component"}, schema.CategoricalColumns)
	assert.Equal(t, "Component", schema.Roles.Platform)
	assert.Equal(t, []string{"Description", "Missing"}, schema.SelectedColumns, "selection is kept for columns that appear later")
}

func TestResolveSchema_KeywordFallback(t *testing.T) {
	n := newNormalizer()
	cols := []string{"Key", "Issue Summary", "Açıklama", "Priority"}
	schema, err := n.ResolveSchema(cols, nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issue Summary", "Açıklama"}, schema.TextColumns)
}

func TestResolveSchema_StringColumnFallback(t *testing.T) {
	n := newNormalizer()
	recs := []model.Record{
		record(t, model.Row{"id": 1, "score": 2.5, "headline": "login crash", "notes": "seen twice", "extra": "x"}),
	}
	schema, err := n.ResolveSchema([]string{"id", "score", "headline", "notes", "extra"}, recs, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"headline", "notes"}, schema.TextColumns)
}

func TestResolveSchema_TooManySelected(t *testing.T) {
	n := newNormalizer()
	_, err := n.ResolveSchema([]string{"a"}, nil, []string{"a", "b", "c", "d", "e", "f"}, nil)
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestDetectRoles_VersionNotTakenAsApplication(t *testing.T) {
	n := newNormalizer()
	roles := n.DetectRoles([]string{"Summary", "App Version", "App Version Enhanced", "Component", "language", "Application"}, []string{"Summary"})
	assert.Equal(t, "App Version Enhanced", roles.Version)
	assert.Equal(t, "Component", roles.Platform)
	assert.Equal(t, "language", roles.Language)
	assert.Equal(t, "Application", roles.Application)

	roles = n.DetectRoles([]string{"Summary", "App Version"}, []string{"Summary"})
	assert.Equal(t, "App Version", roles.Version)
	assert.Equal(t, "", roles.Application)
}

func TestCanonicalAndDescribe(t *testing.T) {
	n := newNormalizer()
	rec := record(t, model.Row{
		"Summary":     "BiP crashes on Login",
		"Description": nil,
		"Component":   "BiP iOS",
		"App Version": "BiP 5.2.1",
		"language":    "tr (0.9)",
	})
	schema, err := n.ResolveSchema([]string{"Summary", "Description", "Component", "App Version", "language"}, []model.Record{rec}, []string{"Summary", "Description"}, nil)
	require.NoError(t, err)

	assert.Equal(t, "bip crashes on login", n.Canonical(rec, schema))

	r := n.Describe("t1", 7, rec, schema)
	assert.Equal(t, 7, r.Offset)
	assert.Equal(t, "t1", r.TenantID)
	assert.Equal(t, "ios", r.Platform)
	assert.Equal(t, "5.2.1", r.Version)
	assert.Equal(t, "tr", r.Language)
	assert.Equal(t, "BiP", r.Application)
}

func TestCanonical_JoinAndPlaceholder(t *testing.T) {
	n := newNormalizer()
	schema := model.Schema{Columns: []string{"a", "b"}, TextColumns: []string{"a", "b"}}
	assert.Equal(t, "first. second", n.Canonical(record(t, model.Row{"a": "First", "b": "Second"}), schema))
	assert.Equal(t, "empty", n.Canonical(record(t, model.Row{"a": "  "}), schema))
}
