package middleware

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-web/types"
)

// StaticStage serves files under root for GET and HEAD. Requests that do not
// name a regular file fall through to the router.
type StaticStage struct {
	root         string
	cacheControl string
	handler      fasthttp.RequestHandler
}

func NewStaticStage(root string, maxAge int) *StaticStage {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	cacheDuration := time.Duration(maxAge) * time.Second
	fs := &fasthttp.FS{
		Root:               root,
		Compress:           true,
		CompressBrotli:     true,
		AcceptByteRange:    true,
		CacheDuration:      cacheDuration,
		IndexNames:         []string{"index.html"},
		GenerateIndexPages: false,
	}

	cacheControl := "no-cache"
	if maxAge > 0 {
		cacheControl = "public, max-age=" + strconv.Itoa(maxAge)
	}

	return &StaticStage{
		root:         root,
		cacheControl: cacheControl,
		handler:      fs.NewRequestHandler(),
	}
}

func (s *StaticStage) Name() string { return StageStatic }

func (s *StaticStage) Handle(ctx *types.RequestCtx) error {
	if !ctx.IsGet() && !ctx.IsHead() {
		return nil
	}

	clean := path.Clean("/" + string(ctx.Path()))
	file := filepath.Join(s.root, filepath.FromSlash(clean))

	info, err := os.Stat(file)
	if err != nil {
		return nil
	}
	if info.IsDir() {
		if _, err := os.Stat(filepath.Join(file, "index.html")); err != nil {
			return nil
		}
	} else if !info.Mode().IsRegular() {
		return nil
	}

	s.handler(ctx.RequestCtx)
	ctx.Response.Header.Set("Cache-Control", s.cacheControl)
	ctx.MarkResponded()

	return nil
}
