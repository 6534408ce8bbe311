package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"strings"

	"git.dolansoft.org/lorenz/cabextract/mscab"
)

var (
	flagDir      = flag.String("dir", ".", "Extract into this directory. Exclusive with --out-tar.")
	flagOutTar   = flag.String("out-tar", "", "Extract into a zstd-compressed tarball at this path. Exclusive with --dir.")
	flagFilter   = flag.String("filter", "", "Only extract files whose name matches this path.Match glob.")
	flagFixMSZIP = flag.Bool("fix-mszip", false, "Downgrade MSZIP data-block checksum mismatches to warnings instead of aborting; decrunch failures still abort.")
	flagSalvage  = flag.Bool("salvage", false, "Set the decompressor's salvage parameter; Open and Search do not consult it, so malformed cabinets still fail or are skipped.")
	flagTest     = flag.Bool("test", false, "Extract into an MD5 digest sink and print \"name  md5sum\" lines instead of writing files.")
	flagTree     = flag.Bool("tree", false, "Print a JSON directory tree of the cabinet's file list instead of extracting.")
	flagList     = flag.Bool("list", false, "List file names, sizes and timestamps instead of extracting.")
	flagSearch   = flag.Bool("search", false, "Treat each argument as a container to scan for embedded cabinets instead of parsing it directly.")
)

func init() {
	flag.StringVar(flagDir, "d", ".", "Shorthand for --dir")
	flag.BoolVar(flagTest, "t", false, "Shorthand for --test")
	flag.BoolVar(flagList, "l", false, "Shorthand for --list")
	flag.StringVar(flagFilter, "f", "", "Shorthand for --filter")
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		log.Fatalln("usage: cabextract [flags] cabinet [cabinet ...]")
	}
	if *flagDir != "." && *flagOutTar != "" {
		log.Fatalln("--dir and --out-tar are mutually exclusive")
	}

	sys := mscab.NewOSSystem(log.Default().Writer())
	dec := mscab.NewDecompressor(sys)
	if *flagFixMSZIP {
		if err := dec.SetParam(mscab.ParamFixMSZIP, 1); err != nil {
			log.Fatalf("set fix-mszip: %v", err)
		}
	}
	if *flagSalvage {
		if err := dec.SetParam(mscab.ParamSalvage, 1); err != nil {
			log.Fatalf("set salvage: %v", err)
		}
	}

	var cabs []*mscab.Cabinet
	var prevOpened *mscab.Cabinet
	for _, name := range args {
		if *flagSearch {
			found, err := dec.Search(name)
			if err != nil {
				log.Fatalf("searching %s: %v", name, err)
			}
			cabs = append(cabs, found...)
			continue
		}
		cab, err := dec.Open(name)
		if err != nil {
			log.Fatalf("opening %s: %v", name, err)
		}
		// Positional arguments beyond the first are the rest of a
		// multi-cabinet set (spec: "first cabinet of a set"); link each
		// onto the previous one so their folders/files merge into a single
		// chain instead of being treated as unrelated cabinets.
		if prevOpened != nil {
			if err := dec.Append(prevOpened, cab); err != nil {
				log.Fatalf("linking %s onto %s: %v", name, prevOpened.Name, err)
			}
		}
		prevOpened = cab
		cabs = append(cabs, cab)
	}
	if len(cabs) == 0 {
		log.Fatalln("no cabinets found")
	}
	// Opened cabinets are merged into one chain that shares cabs[0]'s Files;
	// cabinets found by --search are only forward-linked, so each keeps its
	// own Files and is processed on its own.
	heads := cabs[:1]
	if *flagSearch {
		heads = cabs
	}

	switch {
	case *flagTree:
		for _, head := range heads {
			printTree(head)
		}
		return
	case *flagList:
		for _, head := range heads {
			listFiles(head)
		}
		return
	}

	var target Target
	if *flagOutTar != "" {
		t, err := newArchiveTarget(*flagOutTar)
		if err != nil {
			log.Fatalf("creating output archive: %v", err)
		}
		target = t
	} else {
		target = newDirectoryTarget(*flagDir)
	}

	failed := false
	for _, head := range heads {
		if extractAll(dec, head, target) {
			failed = true
		}
	}
	if err := target.Close(); err != nil {
		log.Fatalf("finishing output: %v", err)
	}
	if failed {
		os.Exit(1)
	}
}

func extractAll(dec *mscab.Decompressor, head *mscab.Cabinet, target Target) bool {
	failed := false
	// head.Files already holds every file in the chain once head's set is
	// merged by Append (every member shares the same merged slice), so this must not also
	// range over the other chain members' Files or each file is visited
	// once per cabinet in the set instead of once overall.
	for _, fe := range head.Files {
		if *flagFilter != "" {
			if ok, _ := path.Match(*flagFilter, fe.Name); !ok {
				continue
			}
		}
		if err := extractOne(dec, fe, target); err != nil {
			log.Printf("extracting %s: %v", fe.Name, err)
			failed = true
		}
	}
	return failed
}

func extractOne(dec *mscab.Decompressor, fe *mscab.FileEntry, target Target) error {
	if *flagTest {
		digest := mscab.NewDigestFile()
		if err := dec.Extract(fe, digest); err != nil {
			return err
		}
		sum := digest.Sum()
		fmt.Printf("%s  %x\n", fe.Name, sum)
		return nil
	}
	if err := target.Create(strings.ReplaceAll(fe.Name, "\\", "/"), int64(fe.UncompressedSize), fe.ModTime()); err != nil {
		return err
	}
	return dec.Extract(fe, target)
}

func printTree(head *mscab.Cabinet) {
	tree := mscab.BuildTree(head)
	raw, err := json.MarshalIndent(tree, "", "\t")
	if err != nil {
		log.Fatalf("encoding tree: %v", err)
	}
	os.Stdout.Write(raw)
	os.Stdout.Write([]byte("\n"))
}

func listFiles(head *mscab.Cabinet) {
	for _, fe := range head.Files {
		fmt.Printf("%10d  %s  %s\n", fe.UncompressedSize, fe.ModTime().Format("2006-01-02 15:04:05"), fe.Name)
	}
}
