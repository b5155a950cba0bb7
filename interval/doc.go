/*Package interval implements the interval algebra used to build per-fiber
  nucleosome maps.
  Each caller's output is a Set of (start, size) intervals.  Sets from
  different callers are reconciled by rasterizing them onto a label array in
  priority order (later layers overwrite earlier ones) and re-extracting runs.
  Unlike a BED union, overlapping intervals inside a Set are kept as-is.
*/
package interval
