// package subsonic implements the wire level of the client: immutable
// request descriptors with their URL/auth building, and the codec that
// normalizes XML and JSON response payloads into one record tree.
//
// Nothing in this package touches the entity graph; it translates between
// bytes and neutral structures the queue and reconciler work with.
package subsonic
