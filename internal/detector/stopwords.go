package detector

import "strings"

type wordSet map[string]struct{}

func newWordSet(words ...string) wordSet {
	s := make(wordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

func (s wordSet) has(word string) bool {
	_, ok := s[strings.ToLower(word)]
	return ok
}

// stopwords can never be a name or the edge of one
var stopwords = newWordSet(
	// spanish articles, prepositions, possessives, connectors, pronouns
	"el", "la", "los", "las", "un", "una", "unos", "unas", "lo", "al", "del",
	"a", "ante", "bajo", "con", "contra", "de", "desde", "en", "entre", "hacia",
	"hasta", "para", "por", "según", "sin", "sobre", "tras",
	"mi", "mis", "tu", "tus", "su", "sus", "nuestro", "nuestra", "vuestro", "vuestra",
	"y", "e", "o", "u", "ni", "que", "pero", "si", "sino", "porque", "como", "cuando",
	"donde", "pues", "aunque", "también", "muy", "más", "ya", "no", "sí",
	"yo", "tú", "él", "ella", "ello", "nosotros", "nosotras", "ellos", "ellas",
	"usted", "ustedes", "me", "te", "se", "nos", "le", "les",
	"este", "esta", "estos", "estas", "ese", "esa", "esos", "esas", "aquel", "aquella",
	"es", "son", "está", "están", "fue", "ser", "hay",
	// english articles, prepositions, possessives, connectors, pronouns
	"the", "an", "of", "in", "on", "at", "to", "for", "from", "with", "by",
	"about", "into", "over", "after", "before", "under", "between", "without",
	"my", "your", "his", "her", "its", "our", "their",
	"and", "or", "but", "if", "so", "as", "than", "then", "because", "when",
	"where", "while", "also", "not", "yes",
	"i", "you", "he", "she", "it", "we", "they", "him", "them", "us",
	"this", "that", "these", "those", "there", "here",
	"is", "are", "was", "were", "be", "been", "am",
	// words that introduce or describe pii without being pii
	"cuyo", "cuya", "nombre", "llamado", "llamada", "name", "named", "called",
	"email", "e-mail", "correo", "teléfono", "telefono", "phone", "mobile", "móvil",
	"contact", "contacto", "call", "llamar",
	"hello", "hi", "hola", "please", "dear", "thanks", "thank", "gracias",
	"señor", "señora", "señorita", "sr", "sra", "mr", "mrs", "ms", "dr",
	// days and months
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	"lunes", "martes", "miércoles", "jueves", "viernes", "sábado", "domingo",
	"january", "february", "march", "april", "may", "june", "july", "august",
	"september", "october", "november", "december",
	"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto",
	"septiembre", "octubre", "noviembre", "diciembre",
)

// invalidFirstWords are verbs and pronouns that cannot start a name
var invalidFirstWords = newWordSet(
	"is", "es", "son", "are", "was", "were", "am", "soy", "eres", "está", "estoy",
	"has", "have", "had", "tiene", "tengo", "hay", "do", "does", "did", "can",
	"could", "will", "would", "should", "must", "puede", "puedo", "debe",
	"i", "you", "he", "she", "we", "they", "yo", "tú", "él", "ella",
	"please", "help", "send", "write", "tell", "ask", "make", "get", "give",
	"need", "want", "quiero", "necesito", "envía", "envia", "escribe", "dime",
	"my", "mi", "your", "tu", "contact", "call", "email",
	"hello", "hola", "thanks", "gracias",
)

// commonWords are frequent nouns, verbs and adjectives that the lowercase
// fallback and single capitalized words must not treat as names
var commonWords = newWordSet(
	// english
	"message", "messages", "contains", "contain", "personal", "information", "info",
	"data", "text", "number", "address", "account", "user", "customer", "client",
	"order", "request", "response", "question", "answer", "problem", "issue",
	"meeting", "today", "tomorrow", "yesterday", "morning", "afternoon", "evening",
	"night", "week", "month", "year", "time", "day", "hour", "minute",
	"good", "bad", "new", "old", "great", "nice", "best", "more", "less", "some",
	"any", "all", "every", "each", "other", "another", "same", "next", "last",
	"first", "second", "again", "just", "only", "very", "really", "still",
	"please", "thanks", "regards", "sincerely", "hello", "hi", "hey",
	"want", "need", "know", "think", "make", "take", "send", "sent", "write",
	"written", "read", "tell", "told", "ask", "asked", "help", "use", "used",
	"find", "found", "give", "given", "get", "got", "see", "seen", "come", "came",
	"work", "works", "working", "call", "called", "reply", "replied", "check",
	"review", "update", "summary", "summarize", "translate", "explain", "list",
	"report", "document", "file", "email", "phone", "name", "names",
	"friend", "friends", "team", "company", "office", "home", "work",
	"what", "which", "who", "whom", "whose", "why", "how",
	"can", "could", "would", "should", "will", "shall", "may", "might", "must",
	"have", "has", "had", "do", "does", "did", "done", "be", "been", "being",
	"no", "none", "nothing", "something", "anything", "everything", "someone",
	"anyone", "everyone", "thing", "things", "way", "place", "people", "person",
	// spanish
	"mensaje", "mensajes", "contiene", "información", "informacion", "datos",
	"texto", "número", "numero", "dirección", "direccion", "cuenta", "usuario",
	"cliente", "pedido", "pregunta", "respuesta", "problema", "reunión", "reunion",
	"hoy", "mañana", "ayer", "tarde", "noche", "semana", "mes", "año", "hora",
	"bueno", "buena", "malo", "mala", "nuevo", "nueva", "otro", "otra", "mismo",
	"misma", "todo", "toda", "todos", "todas", "cada", "algo", "nada", "alguien",
	"nadie", "persona", "gente", "cosa", "cosas", "vez", "veces",
	"quiero", "necesito", "saber", "hacer", "tengo", "tiene", "enviar", "envía",
	"escribir", "escribe", "leer", "decir", "dime", "ayuda", "ayudar", "usar",
	"llamar", "llama", "responder", "revisar", "resumen", "resumir", "traducir",
	"explicar", "lista", "informe", "documento", "archivo", "correo", "teléfono",
	"amigo", "amiga", "amigos", "equipo", "empresa", "oficina", "casa", "trabajo",
	"qué", "cuál", "quién", "quien", "cómo", "dónde", "cuándo", "cuánto",
	"favor", "hola", "saludos", "gracias", "atentamente", "escribo", "hablar",
)

func isStopword(word string) bool {
	return stopwords.has(word)
}

func isCommonWord(word string) bool {
	return commonWords.has(word)
}

func isInvalidFirstWord(word string) bool {
	return invalidFirstWords.has(word)
}
