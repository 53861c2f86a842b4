/*Package interval implements interval-union operations in a manner optimized
  for sets of genomic coordinates represented by BED files.
  (Note the 'union'.  Overlapping and touching intervals are merged, not
  tracked separately.)
  It is used both to restrict evidence collection to target regions and to
  hold the feature windows reads are matched against.  Every position must fit
  in a PosType, which is int32 since that's what BAM files are limited to.
*/
package interval
