package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ipfs/go-cid"

	"github.com/oetyng/safe-nd/storage"
	"github.com/oetyng/safe-nd/storage/storeconfig"
	"github.com/oetyng/safe-nd/storage/storeregistry"

	_ "github.com/oetyng/safe-nd/storage/grpcstore"
	_ "github.com/oetyng/safe-nd/storage/ipfs"
	_ "github.com/oetyng/safe-nd/storage/localfs"
)

type storeFlags struct {
	backend      string
	configPath   string
	listBackends bool
}

func (c *storeFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&c.backend, "backend", "localfs", "Snapshot store backend name (or preferred backend with --store-config)")
	fs.StringVar(&c.configPath, "store-config", "", "Path to a JSON store config describing one or more backends")
	fs.BoolVar(&c.listBackends, "list-backends", false, "List supported backends and exit")
	storeregistry.RegisterFlags(fs, storeregistry.UsageCLI)
}

// open resolves the configured store. Returns cas, close func, ok.
func (c *storeFlags) open(out io.Writer, errOut io.Writer) (storage.CAS, func() error, bool) {
	if c.listBackends {
		for _, b := range storeregistry.List(storeregistry.UsageCLI) {
			if b.Description == "" {
				fmt.Fprintln(out, b.Name)
				continue
			}
			fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return nil, nil, false
	}
	if c.configPath != "" {
		cfg, err := storeconfig.LoadFile(c.configPath)
		if err != nil {
			fmt.Fprintf(errOut, "store config: %v\n", err)
			return nil, nil, false
		}
		cas, closeFn, err := cfg.Open(storeregistry.UsageCLI, c.backend)
		if err != nil {
			fmt.Fprintf(errOut, "open store: %v\n", err)
			return nil, nil, false
		}
		return cas, closeFn, true
	}
	cas, closeFn, err := storeregistry.Open(c.backend, storeregistry.UsageCLI)
	if err != nil {
		fmt.Fprintf(errOut, "open store: %v\n", err)
		return nil, nil, false
	}
	return cas, closeFn, true
}

func cmdStore(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: safe-nd store <put|get|has> ...")
		return 2
	}
	switch args[0] {
	case "put":
		return cmdStorePut(args[1:], out, errOut)
	case "get":
		return cmdStoreGet(args[1:], out, errOut)
	case "has":
		return cmdStoreHas(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown store subcommand: %s\n", args[0])
		return 2
	}
}

func cmdStorePut(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("store put", errOut)
	var sf storeFlags
	sf.add(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.listBackends && fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: safe-nd store put [flags] <file>")
		return 2
	}
	cas, closeFn, ok := sf.open(out, errOut)
	if !ok {
		if sf.listBackends {
			return 0
		}
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	b, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read: %v\n", err)
		return 1
	}
	id, err := cas.Put(b)
	if err != nil {
		fmt.Fprintf(errOut, "put: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, id.String())
	return 0
}

func cmdStoreGet(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("store get", errOut)
	var sf storeFlags
	var cidStr, outPath string
	sf.add(fs)
	fs.StringVar(&cidStr, "cid", "", "CID of the snapshot to fetch")
	fs.StringVar(&outPath, "out", "", "Write bytes to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.listBackends && cidStr == "" {
		fmt.Fprintln(errOut, "missing --cid")
		return 2
	}
	cas, closeFn, ok := sf.open(out, errOut)
	if !ok {
		if sf.listBackends {
			return 0
		}
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	id, err := cid.Decode(cidStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --cid: %v\n", err)
		return 2
	}
	b, err := cas.Get(id)
	if err != nil {
		fmt.Fprintf(errOut, "get: %v\n", err)
		return 1
	}
	if outPath != "" {
		if err := os.WriteFile(outPath, b, 0o644); err != nil {
			fmt.Fprintf(errOut, "write: %v\n", err)
			return 1
		}
		return 0
	}
	if _, err := out.Write(b); err != nil {
		return 1
	}
	return 0
}

func cmdStoreHas(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("store has", errOut)
	var sf storeFlags
	var cidStr string
	sf.add(fs)
	fs.StringVar(&cidStr, "cid", "", "CID to check")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if !sf.listBackends && cidStr == "" {
		fmt.Fprintln(errOut, "missing --cid")
		return 2
	}
	cas, closeFn, ok := sf.open(out, errOut)
	if !ok {
		if sf.listBackends {
			return 0
		}
		return 1
	}
	if closeFn != nil {
		defer closeFn()
	}

	id, err := cid.Decode(cidStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --cid: %v\n", err)
		return 2
	}
	found := cas.Has(id)
	fmt.Fprintln(out, found)
	if !found {
		return 1
	}
	return 0
}
