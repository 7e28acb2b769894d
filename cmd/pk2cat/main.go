// Command pk2cat inspects and builds PK2 archives from the command
// line: list, cat and pack, each a thin driver over the pk2 package.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/silkroad-tools/pk2"
)

func main() {
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "list":
		err = runList(args[1:])
	case "cat":
		err = runCat(args[1:])
	case "pack":
		err = runPack(args[1:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  pk2cat list [-key ascii] <archive>")
	fmt.Fprintln(os.Stderr, "  pk2cat cat  [-key ascii] <archive> <path>")
	fmt.Fprintln(os.Stderr, "  pk2cat pack [-key ascii] <output-name> <source-dir>")
}

func openReader(fs *flag.FlagSet, archive string, key string) (*pk2.Reader, error) {
	r := pk2.NewReader()
	if key != "" {
		r.SetDecryptionKey([]byte(key), nil)
	}
	if err := r.Open(archive); err != nil {
		return nil, fmt.Errorf("open %s: %w", archive, err)
	}
	return r, nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	key := fs.String("key", "", "ASCII decryption key (default: the reader's built-in key)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("list: expected exactly one archive argument")
	}

	r, err := openReader(fs, fs.Arg(0), *key)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.ForEachEntryDo(func(path string, block [20]pk2.Entry) bool {
		for _, e := range block {
			if e.Type == pk2.TypeEmpty || e.Name == "." || e.Name == ".." {
				continue
			}
			full := path
			if full != "" {
				full += "\\"
			}
			full += e.Name
			if e.IsDir() {
				fmt.Printf("%s\\\n", full)
			} else {
				fmt.Printf("%s\t%d\n", full, e.Size)
			}
		}
		return true
	})
}

func runCat(args []string) error {
	fs := flag.NewFlagSet("cat", flag.ExitOnError)
	key := fs.String("key", "", "ASCII decryption key (default: the reader's built-in key)")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("cat: expected an archive and a path argument")
	}

	r, err := openReader(fs, fs.Arg(0), *key)
	if err != nil {
		return err
	}
	defer r.Close()

	e, err := r.GetEntry(fs.Arg(1), nil)
	if err != nil {
		return fmt.Errorf("get entry %s: %w", fs.Arg(1), err)
	}

	data, err := r.ExtractToMemory(e)
	if err != nil {
		return fmt.Errorf("extract %s: %w", fs.Arg(1), err)
	}

	_, err = os.Stdout.Write(data)
	return err
}

func runPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	key := fs.String("key", "", "ASCII decryption key; omit for an unencrypted archive")
	fs.Parse(args)

	if fs.NArg() != 2 {
		return fmt.Errorf("pack: expected an output name and a source directory argument")
	}

	outputName, sourceDir := fs.Arg(0), fs.Arg(1)

	b := pk2.NewBuilder()
	if err := b.New(outputName); err != nil {
		return fmt.Errorf("new builder: %w", err)
	}

	err := filepath.WalkDir(sourceDir, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == sourceDir {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, p)
		if err != nil {
			return err
		}
		rel = strings.ReplaceAll(rel, string(filepath.Separator), `\`)

		if d.IsDir() {
			parent, name := splitParent(rel)
			return b.AddFolder(parent, name)
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		parent, name := splitParent(rel)
		return b.AddFile(parent, name, data)
	})
	if err != nil {
		b.Discard()
		return fmt.Errorf("walk %s: %w", sourceDir, err)
	}

	var keyBytes []byte
	if *key != "" {
		keyBytes = []byte(*key)
	}
	if err := b.Finalize(keyBytes); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

func splitParent(rel string) (parent, name string) {
	idx := strings.LastIndexByte(rel, '\\')
	if idx < 0 {
		return ".", rel
	}
	return rel[:idx], rel[idx+1:]
}
