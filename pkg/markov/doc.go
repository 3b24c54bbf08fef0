/*
Package markov provides a character-level k-gram Markov chain text engine.

Build scans a training text, treated as circular, into an immutable Table that
maps every k-character context to the characters observed after it. Sample draws
a successor weighted by those counts, and a Generator strings draws together:
it picks a random seed context from the text, then repeatedly samples a character
and slides the context forward by one.

Randomness is injected per call with WithRand or WithSeed, so generation is
reproducible under test. Invalid input is reported with the sentinel errors
ErrEmptyCorpus and ErrInvalidParameter; ErrContextNotFound signals a broken
invariant. Built tables can be reused across requests with a TableCache.
*/
package markov
