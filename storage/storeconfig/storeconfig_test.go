package storeconfig_test

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/oetyng/safe-nd/storage"
	"github.com/oetyng/safe-nd/storage/storeconfig"
	"github.com/oetyng/safe-nd/storage/storeregistry"
)

// The test backend opens a process-global Memory per "testmem-id" value so
// tests can observe which instance a write landed in.
var (
	testStores  = map[string]*storage.Memory{}
	testStoreID string
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:  "testmem",
		Usage: storeregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&testStoreID, "testmem-id", "", "test store instance id")
		},
		Open: func() (storage.CAS, func() error, error) {
			s, ok := testStores[testStoreID]
			if !ok {
				s = storage.NewMemory()
				testStores[testStoreID] = s
			}
			return s, nil, nil
		},
	})
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stores.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAndValidate(t *testing.T) {
	path := writeConfig(t, `{
		"write_policy": "all",
		"backends": [
			{"name":"testmem","id":"a","config":{"testmem-id":"a"}},
			{"name":"testmem","id":"b","config":{"testmem-id":"b"}}
		]
	}`)
	cfg, err := storeconfig.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.WritePolicy != "all" || len(cfg.Backends) != 2 {
		t.Fatalf("cfg %+v", cfg)
	}

	bad := writeConfig(t, `{"backends":[{"name":"x"},{"name":"x"}]}`)
	if _, err := storeconfig.LoadFile(bad); err == nil {
		t.Fatal("duplicate id accepted")
	}
	badPolicy := writeConfig(t, `{"write_policy":"sometimes","backends":[{"name":"x"}]}`)
	if _, err := storeconfig.LoadFile(badPolicy); err == nil {
		t.Fatal("invalid write_policy accepted")
	}
	empty := writeConfig(t, `{"backends":[]}`)
	if _, err := storeconfig.LoadFile(empty); err == nil {
		t.Fatal("empty backend list accepted")
	}
}

func TestOpenWriteAllReplicates(t *testing.T) {
	path := writeConfig(t, `{
		"write_policy": "all",
		"backends": [
			{"name":"testmem","id":"repl-a","config":{"testmem-id":"repl-a"}},
			{"name":"testmem","id":"repl-b","config":{"testmem-id":"repl-b"}}
		]
	}`)
	cfg, err := storeconfig.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cas, closeFn, err := cfg.Open(storeregistry.UsageCLI, "")
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	id, err := cas.Put([]byte("replicated snapshot"))
	if err != nil {
		t.Fatal(err)
	}
	if !testStores["repl-a"].Has(id) || !testStores["repl-b"].Has(id) {
		t.Fatal("write_policy=all must write every backend")
	}
}

func TestOpenWriteFirstWithPreferredBackend(t *testing.T) {
	path := writeConfig(t, `{
		"backends": [
			{"name":"testmem","id":"first-a","config":{"testmem-id":"first-a"}},
			{"name":"testmem","id":"first-b","config":{"testmem-id":"first-b"}}
		]
	}`)
	cfg, err := storeconfig.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	// Preferring the second entry moves it to the write position.
	cas, closeFn, err := cfg.Open(storeregistry.UsageCLI, "first-b")
	if err != nil {
		t.Fatal(err)
	}
	defer closeFn()

	id, err := cas.Put([]byte("goes to b"))
	if err != nil {
		t.Fatal(err)
	}
	if testStores["first-a"].Has(id) {
		t.Fatal("write landed in the non-preferred backend")
	}
	if !testStores["first-b"].Has(id) {
		t.Fatal("write missing from the preferred backend")
	}
	// Reads still fall back across both.
	if _, err := cas.Get(id); err != nil {
		t.Fatal(err)
	}

	if _, _, err := cfg.Open(storeregistry.UsageCLI, "nope"); err == nil {
		t.Fatal("unknown preferred backend accepted")
	}
}
