package pack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"asset-packer/internal/proc"
	"asset-packer/internal/scene"
)

// fakeRunner simulates toktx invocations.
type fakeRunner struct {
	mu    sync.Mutex
	calls int
	run   func(ctx context.Context, name string, args ...string) (proc.Result, error)
}

// Run delegates to injected behavior.
func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (proc.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.run == nil {
		return proc.Result{}, nil
	}
	return f.run(ctx, name, args...)
}

// fakeCodec satisfies MeshCodec without doing any work.
type fakeCodec struct{}

func (fakeCodec) EncodeMesh(context.Context, *scene.MeshData, scene.DracoOptions) (*scene.EncodedMesh, error) {
	return &scene.EncodedMesh{}, nil
}

func (fakeCodec) DecodeMesh(context.Context, []byte) (*scene.MeshData, error) {
	return &scene.MeshData{}, nil
}

// fakeIO serves one fake document and records writes.
type fakeIO struct {
	mu      sync.Mutex
	doc     *fakeDocument
	readErr error
	reads   int
	written string
	deps    map[string]any
}

func newFakeIO(doc *fakeDocument) *fakeIO {
	return &fakeIO{doc: doc, deps: map[string]any{}}
}

func (f *fakeIO) Read(path string) (scene.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.doc, nil
}

// WriteBinary returns a payload as large as the document's simulated size.
func (f *fakeIO) WriteBinary(doc scene.Document) ([]byte, error) {
	d := doc.(*fakeDocument)
	d.mu.Lock()
	defer d.mu.Unlock()
	return make([]byte, d.size), nil
}

func (f *fakeIO) Write(path string, doc scene.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = path
	return nil
}

func (f *fakeIO) RegisterDependencies(deps map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range deps {
		f.deps[k] = v
	}
	return nil
}

// fakeDocument shrinks by 10 bytes per transform.
type fakeDocument struct {
	mu         sync.Mutex
	size       int
	transforms []string
	textures   []*fakeTexture
	extensions []*fakeExtension
	slots      map[*fakeTexture][]string
	failOn     string
	panicOn    string
	logger     scene.Logger
}

func newFakeDocument() *fakeDocument {
	return &fakeDocument{size: 100, slots: map[*fakeTexture][]string{}}
}

func (d *fakeDocument) ListTextures() []scene.Texture {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]scene.Texture, len(d.textures))
	for i, t := range d.textures {
		out[i] = t
	}
	return out
}

func (d *fakeDocument) Transform(ctx context.Context, transforms ...scene.Transform) error {
	for _, t := range transforms {
		name := t.Name()
		if name == d.panicOn {
			panic("transform exploded")
		}
		if name == d.failOn {
			return fmt.Errorf("%s: malformed geometry", name)
		}
		d.mu.Lock()
		d.transforms = append(d.transforms, name)
		d.size -= 10
		d.mu.Unlock()
	}
	return nil
}

func (d *fakeDocument) CreateExtension(name string) scene.Extension {
	d.mu.Lock()
	defer d.mu.Unlock()
	ext := &fakeExtension{name: name}
	d.extensions = append(d.extensions, ext)
	return ext
}

func (d *fakeDocument) extension(name string) *fakeExtension {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ext := range d.extensions {
		if ext.name == name {
			return ext
		}
	}
	return nil
}

func (d *fakeDocument) SetLogger(logger scene.Logger) { d.logger = logger }

func (d *fakeDocument) Logger() scene.Logger { return d.logger }

func (d *fakeDocument) TextureSlots(t scene.Texture) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.slots[t.(*fakeTexture)]
}

func (d *fakeDocument) TextureChannelMask(scene.Texture) scene.Channel {
	return scene.ChannelR | scene.ChannelG | scene.ChannelB
}

// fakeTexture is an in-memory image.
type fakeTexture struct {
	mu        sync.Mutex
	name      string
	uri       string
	mime      string
	data      []byte
	size      [2]int
	sizeKnown bool
}

func newFakeTexture(uri, mime, data string) *fakeTexture {
	return &fakeTexture{uri: uri, mime: mime, data: []byte(data), size: [2]int{64, 64}, sizeKnown: true}
}

func (t *fakeTexture) Name() string { return t.name }

func (t *fakeTexture) URI() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uri
}

func (t *fakeTexture) SetURI(uri string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uri = uri
}

func (t *fakeTexture) MimeType() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mime
}

func (t *fakeTexture) SetMimeType(mime string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mime = mime
}

func (t *fakeTexture) Image() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data
}

func (t *fakeTexture) SetImage(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = data
}

func (t *fakeTexture) Size() ([2]int, bool) { return t.size, t.sizeKnown }

// fakeExtension records the calls made on it.
type fakeExtension struct {
	mu       sync.Mutex
	name     string
	required bool
	options  any
	disposed bool
}

func (e *fakeExtension) Name() string { return e.name }

func (e *fakeExtension) SetRequired(required bool) scene.Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.required = required
	return e
}

func (e *fakeExtension) Required() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.required
}

func (e *fakeExtension) SetOptions(options any) scene.Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.options = options
	return e
}

func (e *fakeExtension) Options() any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.options
}

func (e *fakeExtension) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disposed = true
}

func (e *fakeExtension) Disposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// mustWriteFile creates parent dirs and writes test content.
func mustWriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// hasArg checks whether a flag exists in command args.
func hasArg(args []string, flag string) bool {
	for _, arg := range args {
		if arg == flag {
			return true
		}
	}
	return false
}

// containsText reports whether any logging event text contains substr.
func containsText(texts []string, substr string) bool {
	for _, text := range texts {
		if strings.Contains(text, substr) {
			return true
		}
	}
	return false
}
