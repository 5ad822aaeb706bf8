package ipfs

import (
	"flag"
	"os"

	"github.com/oetyng/safe-nd/storage"
	"github.com/oetyng/safe-nd/storage/storeregistry"
)

var (
	flagBin      string
	flagIPFSPath string
)

func init() {
	storeregistry.MustRegister(storeregistry.Backend{
		Name:        "ipfs",
		Description: "Kubo CLI-backed snapshot store (local repo, offline)",
		Usage:       storeregistry.UsageCLI,
		RegisterFlags: func(fs *flag.FlagSet) {
			fs.StringVar(&flagBin, "ipfs-bin", "", "Path to the ipfs binary (for --backend=ipfs); default looks up \"ipfs\" on PATH")
			fs.StringVar(&flagIPFSPath, "ipfs-path", "", "IPFS repo path exported as IPFS_PATH (for --backend=ipfs)")
		},
		Open: func() (storage.CAS, func() error, error) {
			opts := Options{Bin: flagBin}
			if flagIPFSPath != "" {
				opts.Env = append(os.Environ(), "IPFS_PATH="+flagIPFSPath)
			}
			return New(opts), nil, nil
		},
	})
}
