/*
Package s3 serves the s3 scheme from Amazon S3 or any compatible store.

The authority of a reference names the bucket and the path names the key:

	s3://photos/2024/summer/beach.jpg    bucket "photos", key "2024/summer/beach.jpg"

# Folders

S3 has no folders. A path is a folder when it is the bucket root, when an
empty marker object "key/" exists, or when any key starts with "key/".
MakeFolder writes the marker so that empty folders survive; listing uses
the "/" delimiter and merges common prefixes with plain keys.

# Writes

Objects cannot be modified in place. MakeFile stores an empty object at
once and Open returns an in-memory buffer that is uploaded with PutObject
on Close. Move and Copy of single objects use server side CopyObject;
Move of a folder copies then deletes every key below it.

# Errors

NoSuchKey and NotFound map to NOT_FOUND, NoSuchBucket to NOT_FOUND on the
bucket, and anything else to BACKEND_ERROR carrying the SDK error as cause.
*/
package s3
