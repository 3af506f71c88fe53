/*
Package types provides the contracts shared by the dispatcher and the scheme handlers.

	┌─────────────────────────────────────────────┐
	│        pkg/vfs (registry + dispatch)        │
	└─────────────────────────────────────────────┘
	                      │ types.Handler
	┌──────┬─────┬──────┬────────┬──────┬─────┬────┐
	│ file │ mem │ http │ webdav │ sftp │ tar │ s3 │
	└──────┴─────┴──────┴────────┴──────┴─────┴────┘
	          │                 │       │
	   internal/buffer    internal/cache, internal/auth

Handler is the uniform operation set every scheme implements. Copier and
Locker are optional capabilities discovered with a type assertion. File is
the handle type returned by Open and MakeFile; callers must Close it, since
several handlers persist written data only on Close.
*/
package types
