package scorer

import "fmt"

func quickAnalysisPrompt(transcript string) string {
	return fmt.Sprintf(`You are an AI reading assessment assistant. Analyze this reading transcript and identify patterns that indicate reading difficulties.

Analyze for:
1. Repetitions: words or phrases repeated multiple times
2. Hesitations: pauses, fillers (um, uh, er), or drawn-out sounds
3. Self-corrections: when the reader corrects themselves

**TRANSCRIPT:**
%s

Respond ONLY with a JSON object of this exact shape:
{
  "kpis": {
    "word_count": <number>,
    "repetitions": <count>,
    "hesitations": <count>,
    "self_corrections": <count>,
    "fluency_score": <0-100>,
    "estimated_wpm": <number or null>
  },
  "miscues": []
}`, transcript)
}

func passageComparisonPrompt(passage, transcript string) string {
	return fmt.Sprintf(`You are an AI reading assessment assistant. Compare the reading transcript against the expected passage.

Identify every reading miscue:
- omission: a passage word the reader skipped
- insertion: an extra word the reader added
- substitution: a word the reader misread as a different word
- repetition: a word or phrase the reader repeated
- self_correction: an error the reader corrected themselves
- hesitation: a pause, filler (um, uh), or drawn-out sound

**PASSAGE:**
%s

**TRANSCRIPT:**
%s

Respond ONLY with a JSON object of this exact shape:
{
  "kpis": {
    "total_words": <passage word count>,
    "word_count": <words read>,
    "omissions": <count>,
    "insertions": <count>,
    "substitutions": <count>,
    "repetitions": <count>,
    "self_corrections": <count>,
    "hesitations": <count>,
    "accuracy_percentage": <0-100>,
    "fluency_score": <0-100>,
    "estimated_wpm": <number>
  },
  "miscues": [
    {"miscue_type": "<type>", "expected_word": "<word or empty>", "actual_word": "<word or empty>", "position": <passage index>}
  ]
}`, passage, transcript)
}

func helpCheckPrompt(recentText string) string {
	return fmt.Sprintf(`You are a supportive reading tutor for children. Listen to what the child has said while reading and determine if they need help RIGHT NOW.

Child's recent speech: "%s"

Provide help if the child:
- Explicitly asks for help ("help", "I don't know", "what is this word")
- Shows clear frustration or confusion ("I can't", "this is too hard")
- Is completely stuck (very long pause, repeated failed attempts at the same word)

DO NOT provide help for:
- Minor hesitations or self-corrections (these are normal learning)
- Successfully reading with minor pauses
- Making progress even if slowly

Respond ONLY with a JSON object:
{
  "needs_help": true or false,
  "help_message": "a brief, encouraging message (empty string if needs_help is false)",
  "confidence": <0.0-1.0>,
  "reason": "brief explanation"
}

Be patient and encouraging. Only intervene when truly needed.`, recentText)
}
