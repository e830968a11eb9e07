package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	mf "github.com/tetsuo/fmp4remux/bmff"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file.mp4>",
	Short: "Print a file's top-level and nested box structure",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func runProbe(_ *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	sc := mf.NewScanner(f)
	for sc.Next() {
		e := sc.Entry()
		fmt.Printf("[%s] size=%d\n", e.Type, e.Size)

		switch e.Type {
		case mf.TypeMoov, mf.TypeMoof:
			buf := make([]byte, e.DataSize())
			if err := sc.ReadBody(buf); err != nil {
				fmt.Fprintf(os.Stderr, "error reading %s: %v\n", e.Type, err)
				continue
			}
			r := mf.NewReader(buf)
			walk(&r, 1)
		case mf.TypeFtyp:
			buf := make([]byte, e.DataSize())
			if err := sc.ReadBody(buf); err != nil {
				fmt.Fprintf(os.Stderr, "error reading ftyp: %v\n", err)
				continue
			}
			printFtyp(mf.ReadFtyp(buf))
		case mf.TypeMdat:
			fmt.Printf("  dataLen=%d\n", e.DataSize())
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan error: %w", err)
	}
	return nil
}

func walk(r *mf.Reader, depth int) {
	for r.Next() {
		indent := strings.Repeat("  ", depth)
		fmt.Printf("%s[%s] size=%d", indent, r.Type(), r.Size())
		if mf.IsFullBox(r.Type()) {
			fmt.Printf(" v=%d flags=0x%06x", r.Version(), r.Flags())
		}
		printBoxInfo(r)
		fmt.Println()

		if mf.IsContainerBox(r.Type()) {
			r.Enter()
			walk(r, depth+1)
			r.Exit()
			continue
		}

		if r.Type() == mf.TypeStsd {
			r.Enter()
			r.Skip(4)
			for r.Next() {
				printSampleEntry(r, depth+1)
			}
			r.Exit()
		}
	}
}

func printSampleEntry(r *mf.Reader, depth int) {
	indent := strings.Repeat("  ", depth)
	switch r.Type() {
	case mf.TypeAvc1:
		v := mf.ReadVisualSampleEntry(r.Data())
		fmt.Printf("%s[%s] size=%d %dx%d compressor=%q\n", indent, r.Type(), r.Size(), v.Width, v.Height, v.CompressorName)
		r.Enter()
		r.Skip(v.ChildOffset)
		for r.Next() {
			printChild(r, depth+1)
			if r.Type() == mf.TypeAvcC {
				fmt.Printf(" codec=%s", mf.ReadAvcC(r.Data()))
			}
			fmt.Println()
		}
		r.Exit()

	case mf.TypeMp4a:
		a := mf.ReadAudioSampleEntry(r.Data())
		fmt.Printf("%s[%s] size=%d ch=%d sampleSize=%d sampleRate=%d\n", indent, r.Type(), r.Size(), a.ChannelCount, a.SampleSize, a.SampleRate>>16)
		r.Enter()
		r.Skip(a.ChildOffset)
		for r.Next() {
			printChild(r, depth+1)
			if r.Type() == mf.TypeEsds {
				fmt.Printf(" codec=%s", mf.ReadEsdsCodec(r.Data()))
			}
			fmt.Println()
		}
		r.Exit()

	default:
		fmt.Printf("%s[%s] size=%d", indent, r.Type(), r.Size())
		if mf.IsFullBox(r.Type()) {
			fmt.Printf(" v=%d flags=0x%06x", r.Version(), r.Flags())
		}
		fmt.Printf(" (raw %d bytes)\n", len(r.Data()))
	}
}

func printChild(r *mf.Reader, depth int) {
	indent := strings.Repeat("  ", depth)
	if mf.IsFullBox(r.Type()) {
		fmt.Printf("%s[%s] size=%d v=%d flags=0x%06x", indent, r.Type(), r.Size(), r.Version(), r.Flags())
	} else {
		fmt.Printf("%s[%s] size=%d", indent, r.Type(), r.Size())
	}
}

func printFtyp(f mf.FtypInfo) {
	fmt.Printf("  brand=%s ver=%d", string(f.MajorBrand[:]), f.MinorVersion)
	if len(f.Compatible) > 0 {
		fmt.Printf(" compat=[")
		for i, c := range f.Compatible {
			if i > 0 {
				fmt.Printf(",")
			}
			fmt.Printf("%s", string(c[:]))
		}
		fmt.Printf("]")
	}
	fmt.Println()
}

func printBoxInfo(r *mf.Reader) {
	switch r.Type() {
	case mf.TypeFtyp:
		f := mf.ReadFtyp(r.Data())
		fmt.Printf(" brand=%s ver=%d", string(f.MajorBrand[:]), f.MinorVersion)

	case mf.TypeMvhd:
		ts, dur, ntid := r.ReadMvhd()
		fmt.Printf(" timescale=%d duration=%d nextTrackId=%d", ts, dur, ntid)

	case mf.TypeTkhd:
		tid, dur, w, h := r.ReadTkhd()
		fmt.Printf(" trackId=%d duration=%d size=%dx%d", tid, dur, w>>16, h>>16)

	case mf.TypeMdhd:
		ts, dur, lang := r.ReadMdhd()
		fmt.Printf(" timescale=%d duration=%d lang=%d", ts, dur, lang)

	case mf.TypeHdlr:
		ht := r.ReadHdlr()
		fmt.Printf(" type=%s name=%q", string(ht[:]), r.ReadHdlrName())

	case mf.TypeStsd, mf.TypeDref:
		if len(r.Data()) >= 4 {
			fmt.Printf(" entries=%d", r.EntryCount())
		}

	case mf.TypeStsz:
		it := mf.NewStszIter(r.Data())
		fmt.Printf(" entries=%d", it.Count())

	case mf.TypeStco, mf.TypeStss:
		it := mf.NewUint32Iter(r.Data())
		fmt.Printf(" entries=%d", it.Count())

	case mf.TypeCo64:
		it := mf.NewCo64Iter(r.Data())
		fmt.Printf(" entries=%d", it.Count())

	case mf.TypeStts:
		it := mf.NewSttsIter(r.Data())
		fmt.Printf(" entries=%d", it.Count())

	case mf.TypeCtts:
		it := mf.NewCttsIter(r.Data(), r.Version())
		fmt.Printf(" entries=%d", it.Count())

	case mf.TypeStsc:
		it := mf.NewStscIter(r.Data())
		fmt.Printf(" entries=%d", it.Count())

	case mf.TypeMehd:
		fmt.Printf(" fragmentDuration=%d", r.ReadMehd())

	case mf.TypeTrex:
		tid, _, _, _, _ := r.ReadTrex()
		fmt.Printf(" trackId=%d", tid)

	case mf.TypeMfhd:
		fmt.Printf(" seq=%d", r.ReadMfhd())

	case mf.TypeTfhd:
		fmt.Printf(" trackId=%d", r.ReadTfhd())

	case mf.TypeTfdt:
		fmt.Printf(" baseMediaDecodeTime=%d", r.ReadTfdt())

	case mf.TypeTrun:
		it := mf.NewTrunIter(r.Data(), r.Flags())
		fmt.Printf(" entries=%d", it.Count())
		if r.Flags()&mf.TrunDataOffsetPresent != 0 {
			fmt.Printf(" dataOffset=%d", it.DataOffset())
		}

	case mf.TypeMdat:
		fmt.Printf(" dataLen=%d", len(r.Data()))

	default:
		if !mf.IsContainerBox(r.Type()) && len(r.Data()) > 0 {
			fmt.Printf(" (%d bytes)", len(r.Data()))
		}
	}
}
