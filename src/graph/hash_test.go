package graph

import "testing"

func TestHasherDeterministic(t *testing.T) {
	stages := parse(t, "FROM alpine AS build\nRUN echo hi\n")
	g, err := Build(stages, Config{Platform: "linux/amd64"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	src := g.Stages["build"].(*StageImage).Parent.(*BuildStep).Parent.(*SourceImage)
	src.Digest = "sha256:abc"

	h1 := NewHasher("salt")
	hash1, err := h1.Hash(g.Stages["build"].(*StageImage).Parent)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2 := NewHasher("salt")
	hash2, err := h2.Hash(g.Stages["build"].(*StageImage).Parent)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash1 != hash2 {
		t.Fatalf("expected deterministic hash across independent hashers")
	}

	h3 := NewHasher("other-salt")
	hash3, err := h3.Hash(g.Stages["build"].(*StageImage).Parent)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash1 == hash3 {
		t.Fatalf("expected salt to change the hash")
	}
}

func TestHasherRequiresSourceDigest(t *testing.T) {
	stages := parse(t, "FROM alpine\nRUN echo hi\n")
	g, err := Build(stages, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h := NewHasher("salt")
	_, err = h.Hash(g.Stages["0"].(*StageImage).Parent)
	if err == nil {
		t.Fatalf("expected error hashing a source image with no resolved digest")
	}
}

func TestHasherStageImageRejected(t *testing.T) {
	stages := parse(t, "FROM alpine\nRUN echo hi\n")
	g, err := Build(stages, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	h := NewHasher("salt")
	if _, err := h.Hash(g.Stages["0"]); err == nil {
		t.Fatalf("expected error hashing a StageImage directly")
	}
}

func TestHasherContentChangeSensitivity(t *testing.T) {
	stagesA := parse(t, "FROM alpine\nRUN echo hi\n")
	stagesB := parse(t, "FROM alpine\nRUN echo bye\n")

	gA, err := Build(stagesA, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gB, err := Build(stagesB, Config{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gA.Stages["0"].(*StageImage).Parent.(*BuildStep).Parent.(*SourceImage).Digest = "sha256:abc"
	gB.Stages["0"].(*StageImage).Parent.(*BuildStep).Parent.(*SourceImage).Digest = "sha256:abc"

	h := NewHasher("salt")
	hashA, err := h.Hash(gA.Stages["0"].(*StageImage).Parent)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	hashB, err := h.Hash(gB.Stages["0"].(*StageImage).Parent)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hashA == hashB {
		t.Fatalf("expected different RUN instructions to produce different hashes")
	}
}
