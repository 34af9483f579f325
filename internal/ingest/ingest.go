// Package ingest loads the external alignment contract (spec §6.1):
// a stream of (read, taxon, log_probability) triples, taxon identifiers,
// and per-read names. The BAM/SAM alignment step itself is an external
// collaborator and out of scope; this package only reads the
// already-scored matrix entries in the tab-separated form the contract
// describes, keeping the maximum log-probability per (read, taxon) pair
// the way the name-sorted parser's per-read buffer does.
package ingest

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/nishad/metamix/internal/errors"
	"github.com/nishad/metamix/internal/sparsematrix"
	"github.com/nishad/metamix/internal/taxonomy"
)

// Alignments is the parsed external contract: matrix entries ready for
// sparsematrix.New, the taxon identifier map that produced the column
// indices, and the read names in row order (used only for report
// emission).
type Alignments struct {
	Entries   []sparsematrix.Entry
	Reads     int
	ReadNames []string
	Taxa      *taxonomy.Map
}

// LoadAlignments reads tab-separated rows of `read_name taxon_ref
// log_prob` from path, resolving taxon_ref through taxa (creating new
// columns as needed) and read names into contiguous row indices in
// first-seen order. Rows are assumed name-grouped: a run of consecutive
// rows sharing a read name forms one read. Within a read, repeated
// taxon references keep only the maximum log_prob.
func LoadAlignments(path string, taxa *taxonomy.Map) (*Alignments, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapMsg(errors.Op("ingest.LoadAlignments"), "failed to open alignment stream", err)
	}
	defer f.Close()

	var (
		entries    []sparsematrix.Entry
		readNames  []string
		lastName   string
		haveLast   bool
		currentRow int
		readBuffer = make(map[int]float64)
	)

	flush := func() {
		for taxonIdx, logP := range readBuffer {
			entries = append(entries, sparsematrix.Entry{Read: currentRow, Taxon: taxonIdx, Value: logP})
		}
		for k := range readBuffer {
			delete(readBuffer, k)
		}
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, errors.E(errors.Op("ingest.LoadAlignments"), errors.KindSchema,
				"expected 3 tab-separated fields (read_name, taxon_ref, log_prob)")
		}
		readName, taxonRef := fields[0], fields[1]
		logP, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, errors.WrapMsg(errors.Op("ingest.LoadAlignments"), "malformed log_prob", err)
		}

		if !haveLast || readName != lastName {
			if haveLast {
				flush()
			}
			currentRow = len(readNames)
			readNames = append(readNames, readName)
			lastName = readName
			haveLast = true
		}

		taxonIdx := taxa.Index(taxonRef)
		if existing, ok := readBuffer[taxonIdx]; !ok || logP > existing {
			readBuffer[taxonIdx] = logP
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapMsg(errors.Op("ingest.LoadAlignments"), "failed to read alignment stream", err)
	}
	if haveLast {
		flush()
	}

	return &Alignments{
		Entries:   entries,
		Reads:     len(readNames),
		ReadNames: readNames,
		Taxa:      taxa,
	}, nil
}
