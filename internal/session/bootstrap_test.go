package session

import (
	"errors"
	"io/fs"
	"reflect"
	"testing"

	"gitlab.bluewillows.net/root/hostdeploy/internal/local"
)

func TestDirChain(t *testing.T) {
	tests := []struct {
		dir  string
		want []string
	}{
		{"/srv/app/bin", []string{"/srv", "/srv/app", "/srv/app/bin"}},
		{"/srv//app/", []string{"/srv", "/srv/app"}},
		{"app/config", []string{"app", "app/config"}},
		{"./app", []string{"app"}},
		{"/", nil},
		{".", nil},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			if got := dirChain(tt.dir); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("dirChain(%q) = %v, want %v", tt.dir, got, tt.want)
			}
		})
	}
}

func TestUploadFile_Bootstrap(t *testing.T) {
	src := writeLocal(t, "run", "#!/bin/sh\n")

	t.Run("creates each missing level once", func(t *testing.T) {
		files := newMemFS("/srv")
		s := newTestSession(files, newFakeExec())

		dest := "/srv/app/releases/v2/bin/run"
		if err := s.UploadFile(t.Context(), local.NewFilePair(dest, src)); err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}

		wantCalls := []string{
			// phase one: probe toward the root
			"/srv/app/releases/v2/bin",
			"/srv/app/releases/v2",
			"/srv/app/releases",
			"/srv/app",
			// phase two: create deeper levels in order
			"/srv/app/releases",
			"/srv/app/releases/v2",
			"/srv/app/releases/v2/bin",
		}
		if !reflect.DeepEqual(files.mkdirCalls, wantCalls) {
			t.Errorf("Mkdir calls = %v, want %v", files.mkdirCalls, wantCalls)
		}
		if len(files.statCalls) != 0 {
			t.Errorf("Stat calls = %v, want none", files.statCalls)
		}
		if data, ok := files.file(dest); !ok || string(data) != "#!/bin/sh\n" {
			t.Errorf("remote file = %q, %v", data, ok)
		}
	})

	t.Run("no bootstrap when parent exists", func(t *testing.T) {
		files := newMemFS("/srv", "/srv/app")
		s := newTestSession(files, newFakeExec())

		if err := s.UploadFile(t.Context(), local.NewFilePair("/srv/app/run", src)); err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		if len(files.mkdirCalls) != 0 {
			t.Errorf("Mkdir calls = %v, want none", files.mkdirCalls)
		}
	})

	t.Run("relative path", func(t *testing.T) {
		files := newMemFS()
		s := newTestSession(files, newFakeExec())

		if err := s.UploadFile(t.Context(), local.NewFilePair("app/run", src)); err != nil {
			t.Fatalf("UploadFile() error = %v", err)
		}
		if !reflect.DeepEqual(files.mkdirCalls, []string{"app"}) {
			t.Errorf("Mkdir calls = %v, want [app]", files.mkdirCalls)
		}
		if _, ok := files.file("app/run"); !ok {
			t.Error("remote file app/run not written")
		}
	})

	t.Run("permission denied is not parent missing", func(t *testing.T) {
		files := newMemFS("/srv")
		files.mkdirErr["/srv/app"] = fs.ErrPermission
		s := newTestSession(files, newFakeExec())

		err := s.UploadFile(t.Context(), local.NewFilePair("/srv/app/bin/run", src))
		if !errors.Is(err, ErrBootstrap) {
			t.Fatalf("UploadFile() error = %v, want %v", err, ErrBootstrap)
		}
		if !errors.Is(err, fs.ErrPermission) {
			t.Errorf("UploadFile() error = %v, want wrapped %v", err, fs.ErrPermission)
		}
		if !reflect.DeepEqual(files.statCalls, []string{"/srv/app"}) {
			t.Errorf("Stat calls = %v, want [/srv/app]", files.statCalls)
		}
	})

	t.Run("file in place of directory", func(t *testing.T) {
		files := newMemFS("/srv")
		files.put("/srv/app", []byte("not a directory"))
		s := newTestSession(files, newFakeExec())

		err := s.UploadFile(t.Context(), local.NewFilePair("/srv/app/bin/run", src))
		if !errors.Is(err, ErrBootstrap) {
			t.Fatalf("UploadFile() error = %v, want %v", err, ErrBootstrap)
		}
		if len(files.mkdirCalls) != 2 {
			t.Errorf("Mkdir calls = %v, want 2", files.mkdirCalls)
		}
	})

	t.Run("existing directory reported as failure", func(t *testing.T) {
		files := newMemFS("/srv", "/srv/app")
		files.createErr["/srv/app/run"] = fs.ErrNotExist
		s := newTestSession(files, newFakeExec())

		err := s.UploadFile(t.Context(), local.NewFilePair("/srv/app/run", src))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Fatalf("UploadFile() error = %v, want %v after one retry", err, fs.ErrNotExist)
		}
		if !reflect.DeepEqual(files.mkdirCalls, []string{"/srv/app"}) {
			t.Errorf("Mkdir calls = %v, want [/srv/app]", files.mkdirCalls)
		}
	})

	t.Run("no level can be created", func(t *testing.T) {
		files := newMemFS()
		files.mkdirErr["/srv"] = fs.ErrNotExist
		s := newTestSession(files, newFakeExec())

		err := s.UploadFile(t.Context(), local.NewFilePair("/srv/app/run", src))
		if !errors.Is(err, ErrBootstrap) {
			t.Errorf("UploadFile() error = %v, want %v", err, ErrBootstrap)
		}
	})

	t.Run("file at remote root", func(t *testing.T) {
		files := newMemFS()
		files.createErr["/run"] = fs.ErrNotExist
		s := newTestSession(files, newFakeExec())

		err := s.UploadFile(t.Context(), local.NewFilePair("/run", src))
		if !errors.Is(err, ErrBootstrap) {
			t.Errorf("UploadFile() error = %v, want %v", err, ErrBootstrap)
		}
	})

	t.Run("missing local file does not bootstrap", func(t *testing.T) {
		files := newMemFS()
		s := newTestSession(files, newFakeExec())

		err := s.UploadFile(t.Context(), local.NewFilePair("/srv/app/run", src+".missing"))
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("UploadFile() error = %v, want %v", err, fs.ErrNotExist)
		}
		if len(files.mkdirCalls) != 0 {
			t.Errorf("Mkdir calls = %v, want none", files.mkdirCalls)
		}
	})
}
