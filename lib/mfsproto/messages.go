// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

package mfsproto

// CLTOMA_FUSE_*/MATOCL_FUSE_* pairs, lifted verbatim from
// original_source/mfscommon/MFSCommunication.h's PROTO_BASE+4xx block
// (PROTO_BASE itself is 0, confirmed at that header's own definition).
// Only a subset is named here, and lib/dispatch registers handlers for
// only some of those (STATFS, ACCESS, READLINK, SYMLINK, MKNOD, the
// chunk read/write opcodes, GETTRASH, UNDEL, PURGE, REPAIR and
// QUOTACONTROL have none); the rest of that ~100-entry space is left
// undefined rather than stubbed, so a reference to it is a compile
// error instead of a silently-wrong zero value.
const (
	CLTOMA_FUSE_REGISTER Type = 400
	MATOCL_FUSE_REGISTER Type = 401

	CLTOMA_FUSE_STATFS Type = 402
	MATOCL_FUSE_STATFS Type = 403

	CLTOMA_FUSE_ACCESS Type = 404
	MATOCL_FUSE_ACCESS Type = 405

	CLTOMA_FUSE_LOOKUP Type = 406
	MATOCL_FUSE_LOOKUP Type = 407

	CLTOMA_FUSE_GETATTR Type = 408
	MATOCL_FUSE_GETATTR Type = 409

	CLTOMA_FUSE_SETATTR Type = 410
	MATOCL_FUSE_SETATTR Type = 411

	CLTOMA_FUSE_READLINK Type = 412
	MATOCL_FUSE_READLINK Type = 413

	CLTOMA_FUSE_SYMLINK Type = 414
	MATOCL_FUSE_SYMLINK Type = 415

	CLTOMA_FUSE_MKNOD Type = 416
	MATOCL_FUSE_MKNOD Type = 417

	CLTOMA_FUSE_MKDIR Type = 418
	MATOCL_FUSE_MKDIR Type = 419

	CLTOMA_FUSE_UNLINK Type = 420
	MATOCL_FUSE_UNLINK Type = 421

	CLTOMA_FUSE_RMDIR Type = 422
	MATOCL_FUSE_RMDIR Type = 423

	CLTOMA_FUSE_RENAME Type = 424
	MATOCL_FUSE_RENAME Type = 425

	CLTOMA_FUSE_LINK Type = 426
	MATOCL_FUSE_LINK Type = 427

	CLTOMA_FUSE_READDIR Type = 428
	MATOCL_FUSE_READDIR Type = 429

	CLTOMA_FUSE_OPEN Type = 430
	MATOCL_FUSE_OPEN Type = 431

	CLTOMA_FUSE_READ_CHUNK Type = 432
	MATOCL_FUSE_READ_CHUNK Type = 433

	CLTOMA_FUSE_WRITE_CHUNK Type = 434
	MATOCL_FUSE_WRITE_CHUNK Type = 435

	CLTOMA_FUSE_WRITE_CHUNK_END Type = 436
	MATOCL_FUSE_WRITE_CHUNK_END Type = 437

	CLTOMA_FUSE_GETTRASHRETENTION Type = 442
	MATOCL_FUSE_GETTRASHRETENTION Type = 443

	CLTOMA_FUSE_SETTRASHRETENTION Type = 444
	MATOCL_FUSE_SETTRASHRETENTION Type = 445

	CLTOMA_FUSE_GETSCLASS Type = 446
	MATOCL_FUSE_GETSCLASS Type = 447

	CLTOMA_FUSE_SETSCLASS Type = 448
	MATOCL_FUSE_SETSCLASS Type = 449

	CLTOMA_FUSE_GETTRASH Type = 450
	MATOCL_FUSE_GETTRASH Type = 451

	CLTOMA_FUSE_UNDEL Type = 458
	MATOCL_FUSE_UNDEL Type = 459

	CLTOMA_FUSE_PURGE Type = 460
	MATOCL_FUSE_PURGE Type = 461

	CLTOMA_FUSE_TRUNCATE Type = 464
	MATOCL_FUSE_TRUNCATE Type = 465

	CLTOMA_FUSE_REPAIR Type = 466
	MATOCL_FUSE_REPAIR Type = 467

	CLTOMA_FUSE_GETEATTR Type = 472
	MATOCL_FUSE_GETEATTR Type = 473

	CLTOMA_FUSE_SETEATTR Type = 474
	MATOCL_FUSE_SETEATTR Type = 475

	CLTOMA_FUSE_QUOTACONTROL Type = 476
	MATOCL_FUSE_QUOTACONTROL Type = 477

	CLTOMA_FUSE_GETXATTR Type = 478
	MATOCL_FUSE_GETXATTR Type = 479

	CLTOMA_FUSE_SETXATTR Type = 480
	MATOCL_FUSE_SETXATTR Type = 481

	CLTOMA_FUSE_CREATE Type = 482
	MATOCL_FUSE_CREATE Type = 483

	CLTOMA_FUSE_FLOCK Type = 492
	MATOCL_FUSE_FLOCK Type = 493

	CLTOMA_FUSE_POSIX_LOCK Type = 494
	MATOCL_FUSE_POSIX_LOCK Type = 495
)
