// Package jls reads and writes JLS files: single-file, append-oriented
// containers for long-duration instrument telemetry.
//
// A file holds sample streams from one or more sources alongside user
// data, annotations, and sample-to-wall-clock mappings. Fixed
// sample-rate signals carry a multi-level summary pyramid computed
// online while samples stream in, so interactive readers can answer
// range and statistics queries over multi-gigabyte captures in bounded
// time.
//
// Writing:
//
//	w, err := jls.OpenWriter("capture.jls")
//	...
//	err = w.SourceDef(jls.SourceDef{SourceID: 1, Name: "instrument"})
//	err = w.SignalDef(jls.SignalDef{
//		SignalID:              5,
//		SourceID:              1,
//		DataType:              jls.DataTypeF32,
//		SampleRate:            100000,
//		SamplesPerData:        1000,
//		SampleDecimateFactor:  100,
//		EntriesPerSummary:     200,
//		SummaryDecimateFactor: 10,
//	})
//	err = w.WriteFSR(5, 0, samples, sampleCount)
//	err = w.Close()
//
// Reading:
//
//	r, err := jls.OpenReader("capture.jls")
//	...
//	raw, err := r.ReadFSR(5, 0, 1000)
//	quads, err := r.FSRStatistics(5, 0, 100000, 60)
//
// Writers and readers are single-goroutine objects. ThreadedWriter
// decouples a producer from file I/O with a bounded message queue and a
// worker goroutine. Multiple files may be open concurrently; multiple
// independent readers may share one file.
package jls
