// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package readcontext decides whether reads that each show a candidate variant
are reporting the same underlying allele, and tallies that evidence per
genomic position.

Each read contributes an Evidence value: a (ref, alt) allele, a base quality,
a count of nearby mismatch events, and optionally a Context, i.e. the read
bases around the variant with a "core" window that must match exactly for two
reads to be considered the same allele.  Contexts from different reads are
compared in anchor-relative coordinates, since the same variant sits at a
different offset in every read.

An Accumulator owns the evidence for one position.  Evidence for a (ref, alt)
pair is folded into a primary Bucket as long as its context is compatible
with the bucket's running context; the running context grows to the union of
the core windows seen so far.  Evidence whose context conflicts with the
primary is never merged into it: it goes to a secondary Bucket, so that both
interpretations survive for the caller to adjudicate.

Context and Evidence values are immutable and may be shared between
goroutines.  An Accumulator serializes its own mutations.
*/
package readcontext
