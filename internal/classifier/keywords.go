package classifier

// Keyword lists for the scoring dimensions. Matching is case-insensitive
// substring containment on the lowercased prompt text; list order is
// irrelevant. Lists mix English, Chinese, Japanese, Russian, German,
// Spanish, Portuguese, Korean and Arabic terms so classification works for
// prompts in any of the nine scripts the aggregator sees in practice.

var codeKeywords = []string{
	"function", "class", "def ", "const ", "var ", "import ", "export ",
	"return ", "async ", "await ", "struct", "interface", "implement",
	"compile", "debug", "refactor", "unit test", "stack trace", "regex",
	"sql", "api endpoint", "```",
	"代码", "函数", "编程", "调试",
	"コード", "関数", "プログラム",
	"код", "функция", "программ",
	"quellcode", "funktion ",
	"código", "función", "programa",
	"código-fonte",
	"코드", "함수", "프로그램",
	"كود", "برمجة", "دالة",
}

var reasoningKeywords = []string{
	"prove", "proof", "theorem", "step by step", "step-by-step",
	"derive", "derivation", "deduce", "logically", "rigorous",
	"chain of thought", "reason through", "think through", "why does",
	"explain why", "from first principles", "contradiction", "induction",
	"证明", "推理", "逐步", "一步一步",
	"証明", "推論", "段階的に",
	"докажи", "доказательство", "рассуждение", "пошагово",
	"beweise", "beweis", "schritt für schritt", "herleitung",
	"demuestra", "demostración", "paso a paso", "razonamiento",
	"prova", "demonstração", "passo a passo", "raciocínio",
	"증명", "추론", "단계별로",
	"أثبت", "برهان", "خطوة بخطوة", "استنتاج",
}

var technicalKeywords = []string{
	"algorithm", "complexity", "latency", "throughput", "concurrency",
	"distributed", "database", "kubernetes", "container", "protocol",
	"encryption", "authentication", "architecture", "microservice",
	"cache", "index", "schema", "transaction", "replication", "sharding",
	"compiler", "runtime", "garbage collect", "memory leak",
	"算法", "架构", "数据库", "分布式",
	"アルゴリズム", "アーキテクチャ", "データベース",
	"алгоритм", "архитектура", "база данных",
	"algorithmus", "architektur", "datenbank",
	"algoritmo", "arquitectura", "base de datos",
	"arquitetura", "banco de dados",
	"알고리즘", "아키텍처", "데이터베이스",
	"خوارزمية", "معمارية", "قاعدة بيانات",
}

var creativeKeywords = []string{
	"write a story", "poem", "haiku", "lyrics", "fiction", "character",
	"plot", "creative", "imagine", "brainstorm", "slogan", "tagline",
	"写一个故事", "诗", "创意",
	"物語", "詩", "創作",
	"напиши рассказ", "стихотворение", "креатив",
	"schreibe eine geschichte", "gedicht",
	"escribe una historia", "poema", "creativo",
	"escreva uma história", "criativo",
	"이야기를 써", "시를 써", "창의적",
	"اكتب قصة", "قصيدة", "إبداعي",
}

var simpleKeywords = []string{
	"what is the capital", "how do you say", "translate this word",
	"what time", "what day", "who is", "who was", "define ", "definition of",
	"convert ", "how many", "what does", "spell ",
	"什么是", "是什么", "谁是",
	"とは何", "誰です",
	"что такое", "кто такой",
	"was ist", "wer ist",
	"qué es", "quién es",
	"o que é", "quem é",
	"무엇인가", "누구인가",
	"ما هو", "من هو",
}

var imperativeKeywords = []string{
	"implement", "build", "create", "design", "develop", "construct",
	"optimize", "refactor", "migrate", "integrate", "deploy",
	"实现", "构建", "设计",
	"実装", "構築", "設計",
	"реализуй", "создай", "спроектируй",
	"implementiere", "erstelle", "entwirf",
	"implementa", "construye", "diseña",
	"implemente", "construa",
	"구현", "설계", "만들어",
	"نفّذ", "صمم", "ابنِ",
}

var constraintKeywords = []string{
	"must not", "at most", "at least", "no more than", "without using",
	"constraint", "limited to", "only use", "except", "ensure that",
	"不能", "必须", "至少", "最多",
	"しなければ", "以内", "以上",
	"не должен", "как минимум", "не более",
	"darf nicht", "höchstens", "mindestens",
	"no debe", "como máximo", "al menos",
	"não deve", "no máximo", "pelo menos",
	"해야 한다", "이하", "이상",
	"يجب ألا", "على الأقل", "على الأكثر",
}

var outputFormatKeywords = []string{
	"json", "yaml", "xml", "csv", "markdown", "table format",
	"bullet points", "numbered list", "schema", "structured output",
	"表格", "json格式",
	"json形式", "表形式",
	"в формате json", "таблиц",
	"als tabelle", "json-format",
	"en formato json", "en tabla",
	"em formato json", "em tabela",
	"json 형식", "표 형식",
	"بتنسيق json", "جدول",
}

var referenceKeywords = []string{
	"the above", "as mentioned", "previous message", "earlier you said",
	"refer to", "based on the document", "in the attachment", "the following",
	"上面的", "之前提到",
	"上記の", "前述の",
	"выше", "упомянутый ранее",
	"wie oben", "wie erwähnt",
	"lo anterior", "mencionado antes",
	"o acima", "mencionado anteriormente",
	"위에서", "앞서 언급한",
	"المذكور أعلاه", "كما ذكر",
}

var negationKeywords = []string{
	"don't", "do not", "not ", "never", "avoid", "except", "unless",
	"without", "exclude", "neither", "nor ",
	"不要", "不是", "没有",
	"ない", "しないで",
	"не ", "нет", "избегай",
	"nicht", "kein", "vermeide",
	"no ", "nunca", "evita",
	"não ", "nunca", "evite",
	"않", "없", "아니",
	"لا ", "ليس", "تجنب",
}

var domainKeywords = []string{
	"quantum", "zero-knowledge", "zk-snark", "homomorphic", "lattice",
	"transformer architecture", "diffusion model", "reinforcement learning",
	"genome", "crispr", "protein folding", "tensor", "eigenvalue",
	"stochastic", "bayesian", "fourier", "riemann", "topological",
	"量子", "零知识",
	"量子コンピュータ",
	"квантов", "доказательство с нулевым разглашением",
	"quantencomputer",
	"cuántico", "conocimiento cero",
	"quântico",
	"양자", "영지식",
	"كمومي", "المعرفة الصفرية",
}

var agenticKeywords = []string{
	"use the tool", "call the function", "run the command", "execute",
	"browse", "search the web", "read the file", "write to file",
	"open the url", "fetch", "click", "fill the form", "terminal",
	"shell", "git ", "install", "agent", "workflow", "automate",
	"multi-step task", "then verify", "and report back",
	"使用工具", "执行命令", "自动化",
	"ツールを使", "コマンドを実行", "自動化",
	"используй инструмент", "выполни команду", "автоматизируй",
	"führe aus", "werkzeug", "automatisiere",
	"usa la herramienta", "ejecuta", "automatiza",
	"use a ferramenta", "execute", "automatize",
	"도구를 사용", "명령을 실행", "자동화",
	"استخدم الأداة", "نفذ الأمر", "أتمتة",
}
