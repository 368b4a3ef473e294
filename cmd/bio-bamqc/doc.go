/*Command bio-bamqc computes windowed quality-control statistics of a
  coordinate-sorted BAM or SAM file: coverage, mapping quality, base
  content, insert size, duplication and indel rates, over the whole genome
  or inside and outside a set of regions.

  Usage: bio-bamqc [flags] foo.bam

  Reports are written to the -outdir directory.  Inputs and outputs may be
  S3 URLs.
*/
package main
