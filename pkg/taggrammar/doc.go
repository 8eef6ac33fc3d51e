// Package taggrammar tokenizes and renders the controlled-language sentences
// used in rule descriptions.
package taggrammar

/*
Rule Description Syntax

# Overview

Rule descriptions embed symbolic references ("tags") inside a single, fixed-shape
English sentence:

	For <tagGroup> payers <tagGroup>(<tagGroup>) when <trigger text>; the <section> must include "<quoted text>".

For example:

	For @MEDICARE|@MEDICAID payers @ADD(@99214) when documented; the ASSESSMENT_PLAN must include "medical necessity".

# Tags

	tag      := '@' NAME ( '(' PARAM ')' )?
	NAME     := [A-Z0-9_]+
	tagGroup := tag ( '|' tag )* ( '→' tag )?

NAME is upper case. Leading digits are accepted so procedure codes can be
referenced directly (@99214, @25). PARAM is any text with balanced parentheses;
tags inside PARAM are tokenized recursively, so @ADD(@99214) yields both the
parameterized tag and @99214.

A pipe group means "any of". It stays one token (TagGroup) but its members are
resolved individually. The optional trailing arrow names a remap target.

# Tokenizer

Tokenize produces a typed stream of TextRun, Tag and TagGroup values:

  - Matching is left to right with maximal munch: a tag always consumes its full
    NAME and, when the parentheses balance, its full PARAM. A parameterized tag is
    never split across its argument.
  - An unbalanced '(' after a NAME is left as text.
  - An '@' that is not followed by a NAME character is text.
  - Text runs never contain a tag.

# Category precedence

Categorize resolves a bare tag against a Vocabulary in this exact order:

 1. exact match in the payer registry
 2. exact prefix match in the action registry (@ADD matches @ADD(@25))
 3. exact match in the code-group registry
 4. substring or prefix match in the provider registry, ignoring '@' and case
 5. exact match in the chart-section registry
 6. otherwise "other"

Reordering these steps changes which category ambiguous tags fall into.

# Sentence rules

  - exactly one sentence, terminated by a period
  - the literal connectives "For", "payers", "when", "; the" and "must include"
  - the quoted phrase immediately follows "must include"
  - trigger text is lower case, except quoted phrases and tags
  - no "if ... then" construction
*/
