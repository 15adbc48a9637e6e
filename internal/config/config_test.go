package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestBoundingBoxContains(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"new york", 40.7128, -74.0060, true},
		{"los angeles", 34.05, -118.24, true},
		{"london", 51.5074, -0.1278, false},
		{"south of box", 10.0, -100.0, false},
		{"on the edge", 15.0, -170.0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NorthAmerica.Contains(tt.lat, tt.lon); got != tt.want {
				t.Errorf("Contains(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}

func TestConnectionString(t *testing.T) {
	pg := Database{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "airfuse"}
	if got := pg.ConnectionString(); got != "host=db port=5432 user=u password=p dbname=airfuse sslmode=disable" {
		t.Errorf("postgres dsn = %q", got)
	}

	my := Database{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "airfuse"}
	if got := my.ConnectionString(); got != "u:p@tcp(db:3306)/airfuse?charset=utf8mb4&parseTime=True&loc=UTC" {
		t.Errorf("mysql dsn = %q", got)
	}

	override := Database{Driver: "mysql", DSN: "custom-dsn"}
	if got := override.ConnectionString(); got != "custom-dsn" {
		t.Errorf("dsn override = %q", got)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airfuse.yaml")
	doc := `
waqi_token: "file-token"
listen_addr: ":9999"
history:
  backend: memory
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	c := &Config{ListenAddr: DefaultListenAddr, History: History{Backend: "sqlite"}}
	if err := c.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.WAQIToken != "file-token" || c.ListenAddr != ":9999" {
		t.Errorf("overlay not applied: %+v", c)
	}
	if c.History.Backend != "memory" {
		t.Errorf("history backend = %q", c.History.Backend)
	}
}

func TestLoadFileMissingIsNotAnError(t *testing.T) {
	c := &Config{}
	if err := c.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Errorf("missing file must be ignored, got %v", err)
	}
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen_addr: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := (&Config{}).LoadFile(path); err == nil {
		t.Error("malformed yaml must error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			"complete",
			Config{Database: Database{Host: "db", Name: "airfuse"}, EarthDataToken: "tok"},
			false,
		},
		{
			"dsn substitutes for coordinates",
			Config{Database: Database{DSN: "dsn"}, EarthDataToken: "tok"},
			false,
		},
		{
			"missing database",
			Config{EarthDataToken: "tok"},
			true,
		},
		{
			"missing earthdata token",
			Config{Database: Database{Host: "db", Name: "airfuse"}},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var fatal *FatalError
				if !errors.As(err, &fatal) {
					t.Errorf("validation error is not fatal: %T", err)
				}
			}
		})
	}
}

func TestValidateDefaultsCollectionLimit(t *testing.T) {
	c := Config{Database: Database{DSN: "dsn"}, EarthDataToken: "tok", CollectionLimit: -5}
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.CollectionLimit != DefaultCollectionLimit {
		t.Errorf("collection limit = %d, want default %d", c.CollectionLimit, DefaultCollectionLimit)
	}
}

func TestParseBBox(t *testing.T) {
	got, err := parseBBox("15, -170, 72, -50")
	if err != nil {
		t.Fatalf("parseBBox: %v", err)
	}
	if got != NorthAmerica {
		t.Errorf("parseBBox = %+v, want %+v", got, NorthAmerica)
	}

	if _, err := parseBBox("1,2,3"); err == nil {
		t.Error("three values must error")
	}
	if _, err := parseBBox("a,b,c,d"); err == nil {
		t.Error("non-numeric values must error")
	}
}
