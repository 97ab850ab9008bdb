package parse

import (
	"bufio"
	"encoding/csv"
	"io"
	"unicode"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"
)

func init() {
	// Feeds in the wild are sloppy with quotes and with the
	// number of fields per row.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		r := csv.NewReader(in)
		r.LazyQuotes = true
		r.TrimLeadingSpace = true
		r.FieldsPerRecord = -1
		return r
	})
}

// Streams rows of a CSV file with a header line, calling fn for
// each. Unicode BOMs are stripped. An empty file, or one holding
// only a header, yields no rows.
//
// If fn returns an error, no more rows are passed to it and the
// error is returned.
func ReadRows[T any](data io.Reader, fn func(*T) error) error {
	r := bufio.NewReader(bom.NewReader(data))

	for {
		c, _, err := r.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !unicode.IsSpace(c) {
			if err := r.UnreadRune(); err != nil {
				return err
			}
			break
		}
	}

	return gocsv.UnmarshalToCallbackWithError(r, fn)
}
