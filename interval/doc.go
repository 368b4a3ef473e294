/*Package interval indexes regions of interest over the contigs of an alignment
  header.
  Index keeps two views of the regions on each contig: the interval-union
  (overlapping and touching regions merged), used for membership, window masks
  and clipping, and the individual regions with their strands, used for
  strand-aware overlap queries.
  It assumes every contig-local position fits in a PosType, which is currently
  defined as int32 since that's what BAM files are limited to.
*/
package interval
