// Package agent contains players for Detris challenges. GreedyAgent searches
// every reachable placement of the current piece and keeps the one with the
// best board evaluation, with seeded exploration noise that decays as it
// observes its own scores. ScriptedAgent replays fixed trajectories.
package agent
