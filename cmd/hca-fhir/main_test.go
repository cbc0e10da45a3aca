package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/hcafhir/internal/config"
	"github.com/ehr/hcafhir/internal/domain/terminology"
	"github.com/ehr/hcafhir/internal/platform/receiver"
)

const extract = "PtID,age,Sex,Diagnosis name,Surgery detail,Her2Neu FISH,Receptors ER,rlReceptorsER Pct,Receptors PR,rlReceptorsPR Pct,Chemo drug 1,eGFR (ml/min)\n" +
	"11,47,female,Invasive ductal carcinoma,Mastectomy,negative,positive,95,positive,40,Paclitaxel,<60\n"

type fixture struct {
	input, condition, procedure, medication string
}

func writeFixture(t *testing.T, csv string) fixture {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	return fixture{
		input:      write("import-hca.csv", csv),
		condition:  write("map-condition-hca.json", `{"invasive ductal carcinoma":{"snomed":"408643008","display":"Infiltrating duct carcinoma of breast"}}`),
		procedure:  write("map-procedure-hca.yaml", "mastectomy:\n  snomed: \"69031006\"\n  display: Excision of breast tissue\n"),
		medication: write("map-medication-hca.json", `{"Paclitaxel":{"rxnorm":"56946","display":"Paclitaxel"}}`),
	}
}

func (f fixture) args(cmd string, extra ...string) []string {
	args := []string{cmd,
		"--condition-map", f.condition,
		"--procedure-map", f.procedure,
		"--medication-map", f.medication,
	}
	if cmd == "convert" {
		args = append(args, "--input", f.input)
	}
	return append(args, extra...)
}

func execute(t *testing.T, args []string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func decodeAll(t *testing.T, s string) []map[string]interface{} {
	t.Helper()
	var docs []map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(s))
	for dec.More() {
		var doc map[string]interface{}
		if err := dec.Decode(&doc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		docs = append(docs, doc)
	}
	return docs
}

func TestConvert_StdoutPerResource(t *testing.T) {
	f := writeFixture(t, extract)
	out, err := execute(t, f.args("convert", "--bundle-mode", "none"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	docs := decodeAll(t, out)
	// Patient, Condition, 3 mutations, eGFR, Procedure, MedicationOrder
	if len(docs) != 8 {
		t.Fatalf("got %d documents, want 8", len(docs))
	}
	if docs[0]["resourceType"] != "Patient" || docs[0]["id"] != "hca-pat-11" {
		t.Errorf("first document = %v/%v", docs[0]["resourceType"], docs[0]["id"])
	}
}

func TestConvert_StdoutRunBundle(t *testing.T) {
	f := writeFixture(t, extract)
	out, err := execute(t, f.args("convert", "--id-prefix", "test"))
	if err != nil {
		t.Fatal(err)
	}
	docs := decodeAll(t, out)
	if len(docs) != 1 || docs[0]["type"] != "transaction" {
		t.Fatalf("expected one transaction bundle, got %s", out)
	}
	if !strings.Contains(out, `"Patient/test-pat-11"`) {
		t.Error("id prefix not applied")
	}
}

func TestConvert_RemoteWithAuth(t *testing.T) {
	const secret = "cli-test-secret"
	store := receiver.NewMemoryStore()
	srv := httptest.NewServer(receiver.NewServer(receiver.ServerConfig{
		Store:      store,
		Logger:     zerolog.Nop(),
		AuthSecret: secret,
		AuthIssuer: "hca-fhir",
	}))
	defer srv.Close()

	t.Setenv("FHIR_AUTH_SECRET", secret)
	f := writeFixture(t, extract)
	out, err := execute(t, f.args("convert", "--bundle-mode", "patient", srv.URL+"/"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "" {
		t.Errorf("nothing should be printed when submitting, got %q", out)
	}
	if n, _ := store.Count(context.Background()); n != 8 {
		t.Errorf("receiver holds %d resources, want 8", n)
	}
}

func TestConvert_WrongSecretIsRejected(t *testing.T) {
	srv := httptest.NewServer(receiver.NewServer(receiver.ServerConfig{
		Store:      receiver.NewMemoryStore(),
		Logger:     zerolog.Nop(),
		AuthSecret: "server-secret",
	}))
	defer srv.Close()

	t.Setenv("FHIR_AUTH_SECRET", "client-secret")
	f := writeFixture(t, extract)
	if _, err := execute(t, f.args("convert", srv.URL)); err == nil {
		t.Fatal("expected the submission to be rejected")
	}
}

func TestConvert_Failures(t *testing.T) {
	unmapped := strings.Replace(extract, "Invasive ductal carcinoma", "Phyllodes tumor", 1)
	tests := []struct {
		name string
		csv  string
		args []string
	}{
		{"unmapped diagnosis", unmapped, nil},
		{"bad bundle mode", extract, []string{"--bundle-mode", "weekly"}},
		{"bad field policy", extract, []string{"--field-policy", "loose"}},
		{"unsupported version", extract, []string{"--fhir-version", "r4"}},
		{"bad base url", extract, []string{"ftp://example.org"}},
		{"too many args", extract, []string{"http://a", "http://b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := writeFixture(t, tt.csv)
			out, err := execute(t, f.args("convert", tt.args...))
			if err == nil {
				t.Fatal("expected an error")
			}
			if out != "" {
				t.Errorf("nothing should be printed on failure, got %q", out)
			}
		})
	}
}

func TestConvert_MissingTable(t *testing.T) {
	f := writeFixture(t, extract)
	f.medication = filepath.Join(t.TempDir(), "absent.json")
	_, err := execute(t, f.args("convert"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected a missing-file error, got %v", err)
	}
}

func TestTablesCmd(t *testing.T) {
	f := writeFixture(t, extract)
	out, err := execute(t, f.args("tables"))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		terminology.TableCondition + " ",
		"1 entries (fold match)",
		"1 entries (exact match)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNewLogger_Level(t *testing.T) {
	tests := []struct {
		level string
		want  zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{"", zerolog.InfoLevel},
		{"chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := newLogger(&config.Config{LogLevel: tt.level}, io.Discard)
			if got := logger.GetLevel(); got != tt.want {
				t.Errorf("level = %s, want %s", got, tt.want)
			}
		})
	}
}
