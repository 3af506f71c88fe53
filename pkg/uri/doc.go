/*
Package uri implements the reference model of the virtual file system.

A Reference is a parsed URI: scheme, authority (userinfo, host, port), path,
query and fragment. Parsing never consults the handler registry, so any
scheme is accepted.

# Paths

Path values are normalized on construction: "a//b" collapses, "." segments
vanish, ".." cancels the previous segment and is dropped at an absolute root.
The trailing slash is kept as a flag marking folder-like paths.

	p := uri.ParsePath("/a/b/../c/")   // "/a/c/"
	p.Resolve(uri.ParsePath("d"))      // "/a/c/d"
	uri.ParsePath("/a/b").Resolve2(uri.ParsePath("c"))  // "/a/b/c"

Resolve follows browser link semantics, Resolve2 always treats the base as a
folder. PathTo is the inverse of Resolve.

# Windows

A single letter scheme is read as a drive: "c:/x", "C:\x" and "file:///c:/x"
all yield scheme "file" and the absolute path "c:/x". For such bare drive
paths only a numeric fragment ("c:/x#12") is split off.

# Escaping

Path segments are stored unescaped. String on a Reference escapes '%', '#',
'?', '/' and spaces inside segments; Path.String returns the raw form for
host filesystem calls.
*/
package uri
