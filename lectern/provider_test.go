package lectern

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServiceManager(t testing.TB, handler http.HandlerFunc) *ServiceManager {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewServiceManager(
		map[string]ProviderConfig{
			serviceBibleGateway: {BaseURL: srv.URL},
			serviceAPIBible:     {APIKey: "key", BaseURL: srv.URL},
		},
		srv.Client(),
		5*time.Second,
		100,
		nil,
	)
}

func TestServiceManagerProvider(t *testing.T) {
	t.Parallel()

	m := newTestServiceManager(
		t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	)

	p, err := m.Provider(serviceBibleGateway)
	require.NoError(t, err)
	assert.Equal(t, serviceBibleGateway, p.Name())

	p, err = m.Provider(serviceAPIBible)
	require.NoError(t, err)
	assert.Equal(t, serviceAPIBible, p.Name())

	_, err = m.Provider("gopher")
	require.ErrorIs(t, err, ErrServiceNotSupported)
}

func TestServiceManagerGetPassageStampsAbbreviation(t *testing.T) {
	t.Parallel()

	m := newTestServiceManager(
		t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprint(
				w,
				`<html><body><div class="passage-text"><p>`+
					`<sup class="versenum">16</sup>For God so loved the world`+
					`</p></div></body></html>`,
			)
		},
	)

	bible := &BibleVersion{
		Abbreviation:   "ESV",
		Service:        serviceBibleGateway,
		ServiceVersion: "ESV",
	}
	passage, err := m.GetPassage(
		context.Background(), bible, mustParseReference(t, "John 3:16"),
	)
	require.NoError(t, err)
	assert.Equal(t, "ESV", passage.Version)
	assert.Equal(t, "John 3:16 (ESV)", passage.Citation())
}

func TestServiceManagerGetPassageUnknownService(t *testing.T) {
	t.Parallel()

	m := newTestServiceManager(
		t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	)

	bible := &BibleVersion{Service: "gopher"}
	_, err := m.GetPassage(
		context.Background(), bible, mustParseReference(t, "John 3:16"),
	)
	require.ErrorIs(t, err, ErrServiceNotSupported)
}

func TestServiceManagerTimeoutErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-r.Context().Done():
				case <-time.After(time.Second):
				}
				w.WriteHeader(http.StatusOK)
			},
		),
	)
	t.Cleanup(srv.Close)

	m := NewServiceManager(
		map[string]ProviderConfig{serviceBibleGateway: {BaseURL: srv.URL}},
		srv.Client(),
		10*time.Millisecond,
		100,
		nil,
	)

	bible := &BibleVersion{
		Name:           "English Standard Version",
		Service:        serviceBibleGateway,
		ServiceVersion: "ESV",
	}

	_, err := m.GetPassage(
		context.Background(), bible, mustParseReference(t, "John 3:16"),
	)
	var passageTimeout PassageTimeoutError
	require.ErrorAs(t, err, &passageTimeout)
	assert.Equal(t, "John 3:16", passageTimeout.Ref.String())
	assert.Equal(t, "English Standard Version", passageTimeout.Version)

	_, err = m.Search(context.Background(), bible, "grace", 25, 0)
	var searchTimeout SearchTimeoutError
	require.ErrorAs(t, err, &searchTimeout)
	assert.Equal(t, "grace", searchTimeout.Terms)
}

func TestServiceManagerSearchStampsAbbreviation(t *testing.T) {
	t.Parallel()

	m := newTestServiceManager(
		t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = fmt.Fprint(w, bibleGatewaySearchFixture)
		},
	)

	bible := &BibleVersion{
		Abbreviation:   "ESV",
		Service:        serviceBibleGateway,
		ServiceVersion: "ESV",
	}
	results, err := m.Search(context.Background(), bible, "grace", 25, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results.Passages)
	for _, p := range results.Passages {
		assert.Equal(t, "ESV", p.Version)
	}
}
