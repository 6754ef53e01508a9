package adapters

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"esm-federation/internal/types"
)

// PassthroughBundler stands in for a real bundler: it copies each entry
// point to one emitted file and leaves bare specifiers (externals) for the
// import map to resolve.
type PassthroughBundler struct{}

func NewPassthroughBundler() PassthroughBundler {
	return PassthroughBundler{}
}

func (b PassthroughBundler) Bundle(ctx context.Context, req types.BundleRequest) (types.BundleResult, error) {
	if strings.TrimSpace(req.OutputDir) == "" {
		return types.BundleResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("output directory is empty")
	}
	if err := os.MkdirAll(req.OutputDir, 0o750); err != nil {
		return types.BundleResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create output directory").
			WithCause(err)
	}
	names := make([]string, 0, len(req.EntryPoints))
	for name := range req.EntryPoints {
		names = append(names, name)
	}
	sort.Strings(names)

	result := types.BundleResult{Files: map[string]string{}}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return types.BundleResult{}, err
		}
		source := req.EntryPoints[name]
		rel := EmittedName(name, source)
		if err := copyFile(source, filepath.Join(req.OutputDir, rel)); err != nil {
			return types.BundleResult{}, err
		}
		result.Files[name] = filepath.ToSlash(rel)
	}
	log.Ctx(ctx).Debug().
		Str("participant", req.Participant).
		Int("entries", len(result.Files)).
		Strs("externals", req.Externals).
		Msg("bundle emitted")
	return result, nil
}

// EmittedName maps an entry name like "./Button" or "shared/react" to the
// relative file it is emitted as.
func EmittedName(entry string, source string) string {
	ext := filepath.Ext(source)
	if ext == "" {
		ext = ".js"
	}
	cleaned := strings.TrimPrefix(strings.TrimSpace(entry), "./")
	replacer := strings.NewReplacer("@", "_at_", ":", "_", " ", "_")
	cleaned = replacer.Replace(cleaned)
	if cleaned == "" || cleaned == "." {
		cleaned = "index"
	}
	return filepath.FromSlash(cleaned + ext)
}

func copyFile(source string, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("entry point not found: %s", source)).
			WithCause(err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create emit directory").
			WithCause(err)
	}
	out, err := os.Create(target)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create emitted file").
			WithCause(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to write emitted file").
			WithCause(err)
	}
	return out.Close()
}
