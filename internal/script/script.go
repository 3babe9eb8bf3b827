// Package script renders the browser-side service worker script. The
// script mirrors the native Fetch Engine so a real browser registering it
// gets the same cache policies.
package script

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/swkit/internal/core"
)

//go:embed sw.js.tmpl
var source string

var tmpl = template.Must(template.New("sw.js").Parse(source))

// Params are the values baked into the script.
type Params struct {
	CacheName           string
	OfflineFallbackPath string
	Precache            []string
}

// ParamsFrom takes the script parameters from an engine configuration.
func ParamsFrom(cfg core.EngineConfig) Params {
	cfg = cfg.WithDefaults()
	return Params{
		CacheName:           cfg.CacheName,
		OfflineFallbackPath: cfg.OfflineFallbackPath,
		Precache:            cfg.Precache,
	}
}

// Render executes the template. When minify is set the result is passed
// through esbuild.
func Render(p Params, minify bool) (string, error) {
	precache := p.Precache
	if precache == nil {
		precache = []string{}
	}
	list, err := json.Marshal(precache)
	if err != nil {
		return "", fmt.Errorf("encoding precache list: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, struct {
		Params
		PrecacheJSON string
	}{p, string(list)})
	if err != nil {
		return "", fmt.Errorf("rendering service worker: %w", err)
	}
	if !minify {
		return buf.String(), nil
	}
	return Minify(buf.String())
}

// Minify compacts a script with esbuild.
func Minify(src string) (string, error) {
	result := esbuild.Transform(src, esbuild.TransformOptions{
		Loader:            esbuild.LoaderJS,
		Target:            esbuild.ES2020,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Text)
		}
		return "", fmt.Errorf("minifying service worker: %s", strings.Join(msgs, "; "))
	}
	return string(result.Code), nil
}
