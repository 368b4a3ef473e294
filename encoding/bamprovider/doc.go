// Package bamprovider provides sequential access to the alignment records of a
// BAM or SAM file, in file order.
//
// The Provider is an interface for reading the records of one file. The QC
// driver consumes the records of a single Iterator and fans the work out
// itself, so providers never shard.
package bamprovider
