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
Given an indexed BAM, a reference FASTA, and a BED file describing genomic
positions of interest, bio-altread reports every non-reference allele observed
in the reads together with the sequence context the supporting reads agree on.
Reads whose context disagrees with the consensus are reported on separate
"secondary" lines.

Sample usage:
bio-altread collect \
    -bed my-regions.bed \
    -features exons.bed \
    -format rio \
    my.bam ref.fa output-prefix

bio-altread view -cols +region output-prefix.evidence.rio

Options may also be read from a YAML file passed with -config; flags set on
the command line take precedence over it.
*/
package main
