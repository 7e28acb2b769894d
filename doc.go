/*

Package pk2 is a reader/writer for Silkroad Online's PK2 archive format.

A PK2 file is a single-file virtual filesystem: a 256-byte header
followed by a chain of 2560-byte directory entry blocks and a region of
raw file payloads. Directory metadata (but never payload bytes) may be
encrypted with Blowfish in ECB mode, one 128-byte entry per cipher
"block" of 16 Blowfish blocks.

This package provides two independent halves:

  - Reader memory-maps an existing archive and answers path-resolution,
    listing, and extraction queries against it.

  - Builder accepts AddFolder/AddFile calls in any order against a pair
    of scratch streams, then finalizes them into a single compatible
    archive in one pass.

Neither half depends on Silkroad's GfxFileManager.DLL; the whole format
is implemented natively.

Information sources:

  - The reference implementation this package is modeled after is the
    PK2Reader/PK2Builder pair from the ProjectHax/DivisionInfo project.

  - Community writeups on "finding a PK2 blowfish key" describe the
    verify-byte key-check trick used by Open.

*/
package pk2
