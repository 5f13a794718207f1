package snapshot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	widgetsrepo "github.com/faciam-dev/widgetdeck/internal/repository/widgets"
	"github.com/faciam-dev/widgetdeck/pkg/statecodec"
	"github.com/faciam-dev/widgetdeck/pkg/widgets"
)

func newManager(t *testing.T, repo widgets.Persister) *widgets.Manager {
	t.Helper()
	m := widgets.New(widgets.Config{Persister: repo, Serializer: statecodec.JSON{}, ContextPrefix: "u:"})
	for _, d := range []*widgets.Declaration{
		widgets.NewDeclaration("clock", true, func() widgets.Instance { return widgets.NewConfigurable("clock", "time", nil) }),
		widgets.NewDeclaration("note", false, func() widgets.Instance { return widgets.NewConfigurable("note", "text", nil) }),
	} {
		if err := m.AddDeclaration(d); err != nil {
			t.Fatalf("add declaration: %v", err)
		}
	}
	return m
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	repo := widgetsrepo.NewMemoryRepo()
	m := newManager(t, repo)
	alice := m.For("alice")

	noteID, err := alice.InsertWidget(ctx, "note", "")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := alice.InsertWidget(ctx, "clock", noteID); err != nil {
		t.Fatalf("insert: %v", err)
	}
	note := widgets.NewConfigurable("note", "text", nil)
	note.Set("body", "hello")
	if err := alice.SaveWidgetState(ctx, noteID, note); err != nil {
		t.Fatalf("save: %v", err)
	}

	dir := LocalDir{Path: t.TempDir()}
	name, err := Export(ctx, repo, "alice", "u:alice", dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := dir.Read(ctx, name)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	l, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(l.Widgets) != 2 || l.Widgets[0].Type != "clock" || l.Widgets[1].Type != "note" {
		t.Fatalf("unexpected layout %+v", l.Widgets)
	}

	bob := m.For("bob")
	res, err := Import(ctx, bob, statecodec.JSON{}, l)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(res.Imported) != 2 || len(res.Skipped) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	ids, _ := bob.UserWidgetIDs(ctx)
	if len(ids) != 2 || ids[0] != res.Imported[0] {
		t.Fatalf("order not kept: %v vs %v", ids, res.Imported)
	}
	inst, err := bob.WidgetInstance(ctx, ids[1])
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if v, _ := inst.(*widgets.Configurable).Get("body"); v != "hello" {
		t.Fatalf("state not restored: %v", v)
	}

	// importing again skips the unique clock
	res, err = Import(ctx, bob, statecodec.JSON{}, l)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != l.Widgets[0].ID {
		t.Fatalf("expected clock to be skipped: %+v", res)
	}
}

func TestDecodeRejectsVersion(t *testing.T) {
	if _, err := Decode([]byte("version: 9\n")); err == nil {
		t.Fatalf("expected version error")
	}
}

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, _ := io.ReadAll(in.Body)
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b := f.objects[*in.Bucket+"/"+*in.Key]
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestS3RoundTrip(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{}}
	dst := S3{Bucket: "layouts", Prefix: "prod", Client: fake}
	ctx := context.Background()
	if err := dst.Write(ctx, "a.yaml", []byte("version: 1\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, ok := fake.objects["layouts/prod/a.yaml"]; !ok {
		t.Fatalf("unexpected keys %v", fake.objects)
	}
	b, err := dst.Read(ctx, "a.yaml")
	if err != nil || !strings.HasPrefix(string(b), "version") {
		t.Fatalf("read: %q %v", b, err)
	}
}

func TestExportUserIDWithSeparators(t *testing.T) {
	ctx := context.Background()
	repo := widgetsrepo.NewMemoryRepo()
	m := newManager(t, repo)
	root := t.TempDir()
	dir := LocalDir{Path: filepath.Join(root, "snaps")}

	for _, user := range []string{"team/alice", "x/../../evil"} {
		if _, err := m.For(user).InsertWidget(ctx, "note", ""); err != nil {
			t.Fatalf("%s insert: %v", user, err)
		}
		name, err := Export(ctx, repo, user, "u:"+user, dir)
		if err != nil {
			t.Fatalf("%s export: %v", user, err)
		}
		if strings.ContainsAny(name, `/\`) {
			t.Fatalf("%s: name %q contains a separator", user, name)
		}
		if _, err := os.Stat(filepath.Join(dir.Path, name)); err != nil {
			t.Fatalf("%s: layout not inside %s: %v", user, dir.Path, err)
		}
		data, err := dir.Read(ctx, name)
		if err != nil {
			t.Fatalf("%s read back: %v", user, err)
		}
		l, err := Decode(data)
		if err != nil || l.UserID != user || len(l.Widgets) != 1 {
			t.Fatalf("%s decoded %+v %v", user, l, err)
		}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "snaps" {
		t.Fatalf("files written outside the snapshot dir: %v", entries)
	}
}

func TestLocalDirRejectsEscapingNames(t *testing.T) {
	ctx := context.Background()
	dir := LocalDir{Path: t.TempDir()}
	for _, name := range []string{"", "..", "../evil.yaml", "a/b.yaml"} {
		if err := dir.Write(ctx, name, []byte("x")); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("write %q: expected ErrInvalidName, got %v", name, err)
		}
		if _, err := dir.Read(ctx, name); !errors.Is(err, ErrInvalidName) {
			t.Fatalf("read %q: expected ErrInvalidName, got %v", name, err)
		}
	}
}

type failingRestore struct{ statecodec.JSON }

func (failingRestore) Restore(widgets.Instance, string) error { return errors.New("corrupt state") }

func TestImportRemovesWidgetWhenStateFails(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, widgetsrepo.NewMemoryRepo())
	bob := m.For("bob")
	l := Layout{Version: FormatVersion, Widgets: []Item{
		{ID: "a", Type: "note"},
		{ID: "b", Type: "note", State: `{"settings":{}}`},
	}}
	res, err := Import(ctx, bob, failingRestore{}, l)
	if err == nil {
		t.Fatal("expected import error")
	}
	if len(res.Imported) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	ids, err := bob.UserWidgetIDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != res.Imported[0] {
		t.Fatalf("failed widget left behind: %v", ids)
	}
}
