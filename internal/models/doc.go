// package models defines the local catalog entity graph: servers, artists,
// albums, tracks, covers, playlists, podcasts, episodes, indexes, and
// now-playing records.
//
// Entities reference each other by graph key (server id + kind + remote id),
// never by pointer, so they can cross component boundaries safely. All
// mutation happens through the reconciler under the graph store's
// single-writer discipline.
package models
