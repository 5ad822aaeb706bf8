package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/oetyng/safe-nd/address"
	"github.com/oetyng/safe-nd/crdt"
	"github.com/oetyng/safe-nd/data"
	"github.com/oetyng/safe-nd/keys"
	"github.com/oetyng/safe-nd/perm"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "key":
		return cmdKey(args[1:], out, errOut)
	case "create":
		return cmdCreate(args[1:], out, errOut)
	case "show":
		return cmdShow(args[1:], out, errOut)
	case "append":
		return cmdAppend(args[1:], out, errOut)
	case "remove":
		return cmdRemove(args[1:], out, errOut)
	case "set":
		return cmdSet(args[1:], out, errOut)
	case "del":
		return cmdDel(args[1:], out, errOut)
	case "grant":
		return cmdGrant(args[1:], out, errOut)
	case "transfer":
		return cmdTransfer(args[1:], out, errOut)
	case "tombstone":
		return cmdTombstone(args[1:], out, errOut)
	case "merge":
		return cmdMerge(args[1:], out, errOut)
	case "store":
		return cmdStore(args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "safe-nd: signed, conflict-free replicated data types")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  safe-nd key init --name <name> [--seed-hex <64hex>] [--force]")
	fmt.Fprintln(w, "  safe-nd key list")
	fmt.Fprintln(w, "  safe-nd key export --name <name>")
	fmt.Fprintln(w, "  safe-nd create --kind <kind> --file <snapshot> (--signer <name> | --seed-hex | --key-file) [--tag <n>] [--anyone <caps>]")
	fmt.Fprintln(w, "  safe-nd show --file <snapshot>")
	fmt.Fprintln(w, "  safe-nd append --file <snapshot> --value <bytes> <signer flags>")
	fmt.Fprintln(w, "  safe-nd remove --file <snapshot> --at <index> <signer flags>")
	fmt.Fprintln(w, "  safe-nd set --file <snapshot> --key <k> --value <bytes> <signer flags>")
	fmt.Fprintln(w, "  safe-nd del --file <snapshot> --key <k> <signer flags>")
	fmt.Fprintln(w, "  safe-nd grant --file <snapshot> (--user <pubkey-hex> | --anyone) --caps <caps> <signer flags>")
	fmt.Fprintln(w, "  safe-nd transfer --file <snapshot> --new-owner <pubkey-hex> <signer flags>")
	fmt.Fprintln(w, "  safe-nd tombstone --file <snapshot> <signer flags>")
	fmt.Fprintln(w, "  safe-nd merge --file <snapshot> --from <other-snapshot>")
	fmt.Fprintln(w, "  safe-nd store put --backend <b> [backend flags] <file>")
	fmt.Fprintln(w, "  safe-nd store get --backend <b> [backend flags] --cid <cid> [--out <file>]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - <kind> is one of public-sequence, private-sequence, public-map, private-map")
	fmt.Fprintln(w, "  - <caps> is a comma list of insert,update,delete,manage, or \"all\"")
	fmt.Fprintln(w, "  - signer flags: --signer <stored name>, --seed-hex <64hex>, or --key-file <path>")
	fmt.Fprintln(w, "  - keys are stored under ~/.safe-nd/keys (0600 seed files)")
	fmt.Fprintln(w, "  - snapshots are canonical bytes; 'store put' files them by CID")
}

// signerFlags is the shared way every mutating subcommand names its key.
type signerFlags struct {
	name    string
	seedHex string
	keyFile string
}

func newFlagSet(name string, errOut io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

func (s *signerFlags) add(fs *flag.FlagSet) {
	fs.StringVar(&s.name, "signer", "", "Stored key name (from 'safe-nd key init')")
	fs.StringVar(&s.seedHex, "seed-hex", "", "ed25519 seed as 64 hex chars")
	fs.StringVar(&s.keyFile, "key-file", "", "Path to a seed file created by 'safe-nd key init'")
}

func (s *signerFlags) load(errOut io.Writer) (keys.Keypair, bool) {
	if s.seedHex == "" && s.name == "" && s.keyFile == "" {
		fmt.Fprintln(errOut, "missing signer: use --signer, --seed-hex, or --key-file")
		return keys.Keypair{}, false
	}
	ks, err := keys.OpenStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return keys.Keypair{}, false
	}
	kp, err := ks.LoadSigner(s.seedHex, s.name, s.keyFile)
	if err != nil {
		fmt.Fprintf(errOut, "invalid signer: %v\n", err)
		return keys.Keypair{}, false
	}
	return kp, true
}

func cmdKey(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(errOut, "usage: safe-nd key <init|list|export> ...")
		return 2
	}
	switch args[0] {
	case "init":
		return cmdKeyInit(args[1:], out, errOut)
	case "list":
		return cmdKeyList(args[1:], out, errOut)
	case "export":
		return cmdKeyExport(args[1:], out, errOut)
	default:
		fmt.Fprintf(errOut, "unknown key subcommand: %s\n", args[0])
		return 2
	}
}

func cmdKeyInit(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("key init", errOut)
	var name, seedHex string
	var force bool
	fs.StringVar(&name, "name", "", "Key name (file under ~/.safe-nd/keys)")
	fs.StringVar(&seedHex, "seed-hex", "", "Optional ed25519 seed as 64 hex chars (for reproducible demos)")
	fs.BoolVar(&force, "force", false, "Overwrite an existing key file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	ks, err := keys.OpenStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}

	var seed []byte
	if seedHex != "" {
		seed, err = keys.ParseSeedHex(seedHex)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --seed-hex: %v\n", err)
			return 2
		}
	} else {
		seed = make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			fmt.Fprintf(errOut, "rand: %v\n", err)
			return 1
		}
	}

	kp, path, err := ks.Init(name, seed, force)
	if err != nil {
		fmt.Fprintf(errOut, "write key: %v\n", err)
		return 1
	}
	fmt.Fprintf(out, "Created key: %s\n", hex.EncodeToString(kp.PublicKey().Encoded()))
	fmt.Fprintf(out, "Stored at: %s\n", path)
	return 0
}

func cmdKeyList(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("key list", errOut)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ks, err := keys.OpenStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	names, err := ks.List()
	if err != nil {
		fmt.Fprintf(errOut, "list keys: %v\n", err)
		return 1
	}
	for _, n := range names {
		fmt.Fprintln(out, n)
	}
	return 0
}

func cmdKeyExport(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("key export", errOut)
	var name string
	fs.StringVar(&name, "name", "", "Key name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(errOut, "missing --name")
		return 2
	}
	ks, err := keys.OpenStore("")
	if err != nil {
		fmt.Fprintf(errOut, "keys: %v\n", err)
		return 1
	}
	kp, err := ks.Load(name)
	if err != nil {
		fmt.Fprintf(errOut, "load key: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(out, hex.EncodeToString(kp.PublicKey().Encoded()))
	return 0
}

func parseKind(s string) (address.Kind, error) {
	switch s {
	case "public-sequence":
		return address.PublicSequence, nil
	case "private-sequence":
		return address.PrivateSequence, nil
	case "public-map":
		return address.PublicMap, nil
	case "private-map":
		return address.PrivateMap, nil
	default:
		return 0, fmt.Errorf("unknown kind %q", s)
	}
}

func parseCaps(s string) (perm.Caps, error) {
	if s == "all" {
		return perm.AllCaps, nil
	}
	var caps perm.Caps
	for _, part := range strings.Split(s, ",") {
		switch strings.TrimSpace(part) {
		case "insert":
			caps |= perm.CapInsert
		case "update":
			caps |= perm.CapUpdate
		case "delete":
			caps |= perm.CapDelete
		case "manage":
			caps |= perm.CapManage
		case "":
		default:
			return 0, fmt.Errorf("unknown capability %q", part)
		}
	}
	if caps == 0 {
		return 0, fmt.Errorf("empty capability list")
	}
	return caps, nil
}

func parsePublicKeyHex(s string) (keys.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return keys.PublicKey{}, err
	}
	return keys.DecodePublic(b)
}

func loadSnapshot(path string, errOut io.Writer) (*data.Data, bool) {
	b, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(errOut, "read snapshot: %v\n", err)
		return nil, false
	}
	d, err := data.Load(b)
	if err != nil {
		fmt.Fprintf(errOut, "invalid snapshot: %v\n", err)
		return nil, false
	}
	return d, true
}

func saveSnapshot(d *data.Data, path string, errOut io.Writer) bool {
	if err := os.WriteFile(path, d.Snapshot(), 0o644); err != nil {
		fmt.Fprintf(errOut, "write snapshot: %v\n", err)
		return false
	}
	return true
}

func cmdCreate(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("create", errOut)
	var signer signerFlags
	var kindStr, file, anyone string
	var tag uint64
	signer.add(fs)
	fs.StringVar(&kindStr, "kind", "", "Aggregate kind")
	fs.StringVar(&file, "file", "", "Snapshot file to create")
	fs.Uint64Var(&tag, "tag", 0, "Type tag")
	fs.StringVar(&anyone, "anyone", "", "Capabilities for the Anyone entry (public kinds only)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if kindStr == "" || file == "" {
		fmt.Fprintln(errOut, "missing --kind or --file")
		return 2
	}
	kind, err := parseKind(kindStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --kind: %v\n", err)
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}

	scope := perm.Private
	if kind.IsPublic() {
		scope = perm.Public
	}
	initial := perm.NewSet(scope)
	if anyone != "" {
		caps, err := parseCaps(anyone)
		if err != nil {
			fmt.Fprintf(errOut, "invalid --anyone: %v\n", err)
			return 2
		}
		if err := initial.GrantAnyone(caps); err != nil {
			fmt.Fprintf(errOut, "grant anyone: %v\n", err)
			return 2
		}
	}

	d, err := data.Create(kind, kp, tag, initial)
	if err != nil {
		fmt.Fprintf(errOut, "create: %v\n", err)
		return 1
	}
	if !saveSnapshot(d, file, errOut) {
		return 1
	}
	fmt.Fprintf(out, "Address: %s\n", d.Address())
	return 0
}

func cmdShow(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("show", errOut)
	var file string
	fs.StringVar(&file, "file", "", "Snapshot file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		fmt.Fprintln(errOut, "missing --file")
		return 2
	}
	d, ok := loadSnapshot(file, errOut)
	if !ok {
		return 1
	}

	fmt.Fprintf(out, "Address:       %s\n", d.Address())
	fmt.Fprintf(out, "Owner:         %s\n", d.Owner())
	fmt.Fprintf(out, "Owner version: %d\n", d.OwnerVersion())
	fmt.Fprintf(out, "Perm version:  %d\n", d.PermVersion())
	fmt.Fprintf(out, "Tombstoned:    %v\n", d.IsTombstoned())
	if cid, err := d.SnapshotCID(); err == nil {
		fmt.Fprintf(out, "Snapshot CID:  %s\n", cid)
	}
	if d.IsSequence() {
		for i, v := range d.SequenceValues() {
			fmt.Fprintf(out, "  [%d] %s\n", i, string(v))
		}
		return 0
	}
	view := d.MapView()
	for _, k := range sortedKeys(view) {
		fmt.Fprintf(out, "  %s = %s\n", k, string(view[k]))
	}
	return 0
}

func sortedKeys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// mutate loads the snapshot, builds and applies one signed op, and saves.
func mutate(file string, errOut io.Writer, build func(d *data.Data, kp keys.Keypair) (data.SignedOp, error), kp keys.Keypair) int {
	d, ok := loadSnapshot(file, errOut)
	if !ok {
		return 1
	}
	s, err := build(d, kp)
	if err != nil {
		fmt.Fprintf(errOut, "build op: %v\n", err)
		return 1
	}
	if err := d.Apply(s); err != nil {
		fmt.Fprintf(errOut, "apply: %v\n", err)
		return 1
	}
	if !saveSnapshot(d, file, errOut) {
		return 1
	}
	return 0
}

func cmdAppend(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("append", errOut)
	var signer signerFlags
	var file, value string
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	fs.StringVar(&value, "value", "", "Value to append")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		fmt.Fprintln(errOut, "missing --file")
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		after := sequenceTail(d)
		return d.NewSequenceInsertOp(kp, after, []byte(value))
	}, kp)
}

// sequenceTail returns the ID of the last entry in total order, or the root
// dot for an empty sequence.
func sequenceTail(d *data.Data) crdt.Dot {
	entries := d.SequenceEntries()
	if len(entries) == 0 {
		return crdt.Dot{}
	}
	return entries[len(entries)-1].ID
}

func cmdRemove(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("remove", errOut)
	var signer signerFlags
	var file string
	var at int
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	fs.IntVar(&at, "at", -1, "Live entry index to remove")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" || at < 0 {
		fmt.Fprintln(errOut, "missing --file or --at")
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		live := 0
		for _, e := range d.SequenceEntries() {
			if e.Tombstone {
				continue
			}
			if live == at {
				return d.NewSequenceRemoveOp(kp, e.ID)
			}
			live++
		}
		return data.SignedOp{}, fmt.Errorf("no live entry at index %d", at)
	}, kp)
}

func cmdSet(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("set", errOut)
	var signer signerFlags
	var file, key, value string
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	fs.StringVar(&key, "key", "", "Map key")
	fs.StringVar(&value, "value", "", "Value to store")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" || key == "" {
		fmt.Fprintln(errOut, "missing --file or --key")
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		return d.NewMapSetOp(kp, key, []byte(value))
	}, kp)
}

func cmdDel(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("del", errOut)
	var signer signerFlags
	var file, key string
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	fs.StringVar(&key, "key", "", "Map key")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" || key == "" {
		fmt.Fprintln(errOut, "missing --file or --key")
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		return d.NewMapDeleteOp(kp, key)
	}, kp)
}

func cmdGrant(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("grant", errOut)
	var signer signerFlags
	var file, user, capsStr string
	var anyone bool
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	fs.StringVar(&user, "user", "", "Grantee public key (hex of canonical encoding)")
	fs.BoolVar(&anyone, "anyone", false, "Grant to the Anyone entry instead of a key")
	fs.StringVar(&capsStr, "caps", "", "Capabilities to grant")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" || capsStr == "" || (user == "" && !anyone) {
		fmt.Fprintln(errOut, "missing --file, --caps, or grantee (--user / --anyone)")
		return 2
	}
	caps, err := parseCaps(capsStr)
	if err != nil {
		fmt.Fprintf(errOut, "invalid --caps: %v\n", err)
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		next := d.Permissions()
		if anyone {
			if err := next.GrantAnyone(caps); err != nil {
				return data.SignedOp{}, err
			}
		} else {
			pk, err := parsePublicKeyHex(user)
			if err != nil {
				return data.SignedOp{}, fmt.Errorf("invalid --user: %v", err)
			}
			next.Grant(pk, caps)
		}
		return d.NewSetPermissionsOp(kp, next)
	}, kp)
}

func cmdTransfer(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("transfer", errOut)
	var signer signerFlags
	var file, newOwner string
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	fs.StringVar(&newOwner, "new-owner", "", "Receiving public key (hex of canonical encoding)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" || newOwner == "" {
		fmt.Fprintln(errOut, "missing --file or --new-owner")
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		pk, err := parsePublicKeyHex(newOwner)
		if err != nil {
			return data.SignedOp{}, fmt.Errorf("invalid --new-owner: %v", err)
		}
		return d.NewOwnerTransferOp(kp, pk)
	}, kp)
}

func cmdTombstone(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("tombstone", errOut)
	var signer signerFlags
	var file string
	signer.add(fs)
	fs.StringVar(&file, "file", "", "Snapshot file")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" {
		fmt.Fprintln(errOut, "missing --file")
		return 2
	}
	kp, ok := signer.load(errOut)
	if !ok {
		return 2
	}
	return mutate(file, errOut, func(d *data.Data, kp keys.Keypair) (data.SignedOp, error) {
		return d.NewTombstoneOp(kp)
	}, kp)
}

func cmdMerge(args []string, out io.Writer, errOut io.Writer) int {
	fs := newFlagSet("merge", errOut)
	var file, from string
	fs.StringVar(&file, "file", "", "Snapshot file to merge into")
	fs.StringVar(&from, "from", "", "Snapshot file to merge from")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if file == "" || from == "" {
		fmt.Fprintln(errOut, "missing --file or --from")
		return 2
	}
	d, ok := loadSnapshot(file, errOut)
	if !ok {
		return 1
	}
	remote, ok := loadSnapshot(from, errOut)
	if !ok {
		return 1
	}
	if err := d.Merge(remote); err != nil {
		fmt.Fprintf(errOut, "merge: %v\n", err)
		return 1
	}
	if !saveSnapshot(d, file, errOut) {
		return 1
	}
	return 0
}
